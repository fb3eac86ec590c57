// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/calib/internal/version.Version=...".
package version

var (
	// Version is the release of the calibration tools.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
