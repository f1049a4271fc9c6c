// Package version reports safeword build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/rbright/safeword/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String renders the version line printed by `safeword version`. Without
// ldflags the commit and date come from the embedded VCS build info.
func String() string {
	commit, date := Commit, Date
	if commit == "" || date == "" {
		vcsCommit, vcsDate := vcsInfo()
		if commit == "" {
			commit = vcsCommit
		}
		if date == "" {
			date = vcsDate
		}
	}
	return fmt.Sprintf("safeword %s (commit=%s, built=%s, %s/%s, %s)",
		Version, orUnknown(commit), orUnknown(date), runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func vcsInfo() (commit, date string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.time":
			date = s.Value
		}
	}
	return commit, date
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
