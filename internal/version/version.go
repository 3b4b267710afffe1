// Package version exposes build metadata injected at link time.
package version

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/pkgbuild/internal/version.Version=v0.3.0".
var Version = "dev"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by --version.
func String() string {
	if GitCommit == "unknown" {
		return "pkgbuild " + Version
	}
	return "pkgbuild " + Version + " (" + GitCommit + ", " + BuildTime + ")"
}
