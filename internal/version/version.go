// Package version holds build metadata, set at link time with
// -ldflags "-X claimpricer/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("claimpricer %s (commit %s, built %s, %s)", Version, Commit, Date, runtime.Version())
}
