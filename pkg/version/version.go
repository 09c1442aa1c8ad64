// Package version holds build information for the libai binary, set at build time:
//
//	go build -ldflags "-X github.com/Lynx-Eco/lib-ai/pkg/version.Version=v1.2.3" ./cmd/libai
package version

import "fmt"

//nolint:gochecknoglobals // ldflags injection targets
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
