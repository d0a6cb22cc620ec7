// Package version carries build identification, overridden via ldflags.
package version

import "fmt"

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a single-line build description for startup logs.
func Info() string {
	return fmt.Sprintf("TableVault %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
