package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection refused")
	err := NewRegistryFetchError("could not download Node version index", cause)

	assert.Equal(t, "could not download Node version index: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())

	bare := NewInputError("invalid version spec", nil)
	assert.Equal(t, "invalid version spec", bare.Error())
}

func TestKindPredicates(t *testing.T) {
	t.Parallel()

	err := NewNoMatchingError("no Node version matching ^99", nil)
	assert.True(t, IsNoMatching(err))
	assert.False(t, IsInput(err))

	// Predicates see through wrapping.
	wrapped := fmt.Errorf("resolving platform: %w", err)
	assert.True(t, IsNoMatching(wrapped))
	assert.Equal(t, ErrNoMatching, KindOf(wrapped))

	// Foreign errors report as bugs.
	assert.Equal(t, ErrBug, KindOf(fmt.Errorf("plain")))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"not configured", NewNotConfiguredError("no node", nil), ExitNoPlatform},
		{"no matching", NewNoMatchingError("none", nil), ExitNoMatching},
		{"file system", NewFileSystemError("rename", nil), ExitFileSystem},
		{"extraction", NewExtractionError("bad entry", nil), ExitFileSystem},
		{"registry fetch", NewRegistryFetchError("index", nil), ExitNetwork},
		{"download", NewDownloadFailedError("archive", nil), ExitNetwork},
		{"integrity", NewIntegrityFailedError("digest", nil), ExitIntegrity},
		{"interrupted", NewInterruptedError("signal", nil), ExitInterrupted},
		{"input", NewInputError("spec", nil), ExitGeneric},
		{"bug", NewBugError("invariant", nil), ExitGeneric},
		{"foreign", fmt.Errorf("other"), ExitGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
