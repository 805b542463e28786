// Package version provides build-time version information
package version

import "runtime/debug"

var (
	// Version is the semantic version (set via ldflags)
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash (set via ldflags)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = "unknown"
)

// Info returns a formatted version string
func Info() string {
	return Version + " (" + commit() + ") built at " + BuildTime
}

// Fields returns the version information as a map for JSON status output.
func Fields() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     commit(),
		"build_time": BuildTime,
	}
}

// commit falls back to the VCS revision embedded by the Go toolchain when
// GitCommit was not set via ldflags.
func commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return GitCommit
}
