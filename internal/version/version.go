// Package version contains build information reported by /version.
package version

// Set at build time via
// -ldflags "-X github.com/bissquit/listing-dispatch/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
