// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/you/ytchat-export/internal/version.Version=v1.0.0"
package version

import (
	"fmt"
	"time"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuiltAt parses BuildTime as RFC 3339. ok is false when it is unset or
// malformed.
func BuiltAt() (t time.Time, ok bool) {
	if BuildTime == "" || BuildTime == "unknown" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
