// Package version carries build metadata stamped with -ldflags, e.g.
//
//	go build -ldflags "-X metalwatch/internal/version.Version=v0.3.0" ./cmd/metalwatch
package version

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
