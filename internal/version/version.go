// Package version holds build-time version information for the dermai
// binary. The variables are injected via -ldflags:
//
// -X github.com/Brownie44l1/dermai-api/internal/version.Version=v0.1.0
// -X github.com/Brownie44l1/dermai-api/internal/version.Commit=abc1234
// -X github.com/Brownie44l1/dermai-api/internal/version.Date=2026-10-19T00:00:00Z
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns e.g. "v0.1.0 (commit abc1234, built 2026-10-19T12:00:00Z)".
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Short returns just the version tag.
func Short() string {
	return Version
}
