// Package version reports the netkvm build.
package version

import "fmt"

// VERSION and Commit are set at build time via:
//
//	go build -ldflags "-X github.com/chronologos/netkvm/internal/version.VERSION=0.1.0 -X github.com/chronologos/netkvm/internal/version.Commit=abc123" ./cmd/netkvm
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String is the one-line form printed by `netkvm version`.
func String() string {
	return fmt.Sprintf("netkvm %s (%s)", VERSION, Commit)
}
