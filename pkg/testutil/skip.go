package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips tests that spawn many goroutines or run long property
// checks when -short is set.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skipf("%s: skipped in short mode", t.Name())
	}
}

// RequireIntegration skips tests that start containers. They run locally by
// default; on CI they need INTEGRATION_TESTS=1.
func RequireIntegration(t *testing.T) {
	t.Helper()
	SkipIfShort(t)
	if os.Getenv("CI") != "" && os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("container tests disabled on CI (set INTEGRATION_TESTS=1 to run)")
	}
}
