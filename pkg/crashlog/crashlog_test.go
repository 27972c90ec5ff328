package crashlog

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voltaerrors "github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/layout"
)

func TestShouldReport(t *testing.T) {
	t.Parallel()

	assert.True(t, ShouldReport(voltaerrors.NewBugError("invariant", nil)))
	assert.True(t, ShouldReport(voltaerrors.NewFileSystemError("rename", nil)))
	assert.False(t, ShouldReport(voltaerrors.NewInputError("spec", nil)))
	assert.False(t, ShouldReport(voltaerrors.NewNoMatchingError("none", nil)))
}

func TestWriteReport(t *testing.T) {
	home := layout.New(t.TempDir())

	t.Setenv("VOLTA_TEST_PLAIN", "visible")
	t.Setenv("VOLTA_TEST_API_TOKEN", "hunter2")

	cause := voltaerrors.NewFileSystemError("could not rename image into place",
		os.ErrPermission)
	path := Write(home, []string{"volta", "install", "node@18.17.1"}, cause)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)

	assert.Contains(t, report, "volta install node@18.17.1")
	assert.Contains(t, report, "could not rename image into place")
	assert.Contains(t, report, "permission denied")
	assert.Contains(t, report, "VOLTA_TEST_PLAIN=visible")
	assert.NotContains(t, report, "hunter2")
	assert.True(t, strings.HasPrefix(path, home.LogDir()))
}
