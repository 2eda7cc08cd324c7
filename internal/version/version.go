// Package version carries the build identity stamped into release binaries.
package version

// Overridden at release time via -ldflags "-X card-scanner/internal/version.Version=..."
// and friends; the defaults mark an untagged development build.
var (
	// Version is the release tag.
	Version = "0.1.0"

	// BuildTime is when the binary was produced, UTC.
	BuildTime = "unknown"

	// GitCommit identifies the source revision.
	GitCommit = "unknown"
)
