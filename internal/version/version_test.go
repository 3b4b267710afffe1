package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	if got := String(); got != "pkgbuild "+Version {
		t.Errorf("String() = %q", got)
	}

	GitCommit, BuildTime = "abc123", "2026-01-01"
	t.Cleanup(func() { GitCommit, BuildTime = "unknown", "unknown" })
	if got := String(); !strings.Contains(got, "abc123") || !strings.Contains(got, "2026-01-01") {
		t.Errorf("String() = %q, want commit and build time", got)
	}
}
