// Package version reports the ufoo build version.
package version

import "runtime/debug"

// Set at build time via -ldflags "-X ufoo/internal/version.version=...".
var (
	version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var
	commit  = ""    //nolint:gochecknoglobals // ldflags requires package-level var
)

// String returns the version, with the short commit when known. Without
// ldflags the VCS revision stamped by the go tool is used.
func String() string {
	rev := commit
	if rev == "" {
		rev = vcsRevision()
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev == "" {
		return version
	}
	return version + " (" + rev + ")"
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
