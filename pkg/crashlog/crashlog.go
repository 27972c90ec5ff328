// Package crashlog writes crash reports for internal errors: a timestamped
// file under the log directory recording the invocation, a filtered copy
// of the environment, and the structured error chain.
package crashlog

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/logger"
)

// sensitiveEnvMarkers flag environment variables that never belong in a
// report.
var sensitiveEnvMarkers = []string{"TOKEN", "SECRET", "KEY", "PASSWORD", "CREDENTIAL", "AUTH"}

// ShouldReport decides whether an error warrants a crash report: internal
// invariant violations always do, filesystem errors do because they tend
// to indicate a wedged Volta home.
func ShouldReport(err error) bool {
	switch errors.KindOf(err) {
	case errors.ErrBug, errors.ErrFileSystem:
		return true
	default:
		return false
	}
}

// Write records the report and returns its path. Failures to write are
// logged and swallowed; crash reporting never masks the original error.
func Write(home *layout.Home, argv []string, err error) string {
	if err := os.MkdirAll(home.LogDir(), 0o755); err != nil {
		logger.Debugf("could not create crash log directory: %v", err)
		return ""
	}

	name := fmt.Sprintf("volta-error-%s-%s.log",
		time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(home.LogDir(), name)

	var b strings.Builder
	fmt.Fprintf(&b, "Volta error report, %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "command: %s\n\n", strings.Join(argv, " "))

	b.WriteString("error chain:\n")
	for depth, cause := 0, err; cause != nil; cause = stderrors.Unwrap(cause) {
		fmt.Fprintf(&b, "%s- %v\n", strings.Repeat("  ", depth), cause)
		depth++
	}
	b.WriteString("\nenvironment:\n")
	for _, entry := range os.Environ() {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || isSensitive(key) {
			continue
		}
		fmt.Fprintf(&b, "  %s\n", entry)
	}

	if writeErr := os.WriteFile(path, []byte(b.String()), 0o600); writeErr != nil {
		logger.Debugf("could not write crash report: %v", writeErr)
		return ""
	}
	return path
}

func isSensitive(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
