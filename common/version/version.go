// Package version holds build metadata injected with -ldflags "-X".
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the one-line form printed by --version and /status.
func Info() string {
	return Version + " (" + GitCommit + ", " + BuildTime + ")"
}
