package version

var (
	// Version is the semantic version of this build. Overridden at link
	// time via -ldflags.
	Version = "0.4.0"

	// GitCommit is the short commit hash of this build. Overridden at
	// link time via -ldflags.
	GitCommit = ""
)

// GetVersion returns the human-readable version string.
func GetVersion() string {
	if GitCommit != "" {
		return Version + " (" + GitCommit + ")"
	}
	return Version
}
