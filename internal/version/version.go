// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the release version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version output.
func String() string {
	return fmt.Sprintf("nanotrack %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
