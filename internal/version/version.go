// Package version holds build information, set with -ldflags -X.
package version

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
