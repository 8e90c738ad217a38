package config

import "runtime/debug"

// Release builds stamp these through the linker:
//
//	go build -ldflags "-X turfwatch/internal/config.version=1.2.3 \
//	    -X turfwatch/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X turfwatch/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the build metadata for this binary. Linker-stamped
// values win; when they are absent it falls back to the VCS information the
// Go toolchain embeds in module-aware builds.
func NewBuildInfo() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if info.Commit != "none" {
		return info
	}
	if rev, at, ok := vcsStamp(); ok {
		info.Commit = rev
		if info.BuildTime == "unknown" && at != "" {
			info.BuildTime = at
		}
	}
	return info
}

// vcsStamp reads the revision embedded by the toolchain, if any. Test
// binaries never carry one, so development defaults survive under go test.
func vcsStamp() (revision, at string, ok bool) {
	bi, found := debug.ReadBuildInfo()
	if !found {
		return "", "", false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		}
	}
	if revision == "" {
		return "", "", false
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return revision, at, true
}
