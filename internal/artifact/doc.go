// Package artifact provisions server executables.
//
// A Store downloads the release archive for a version and host target,
// verifies it against the published SHA-256 sums, extracts the executable
// into the store directory and records it in a SQLite index. Later
// resolutions of the same version and target return the cached path
// without touching the network, as long as the file is still there.
//
// Store layout:
//
//	<store>/index.db
//	<store>/downloads/<archive>.zip          (removed after extraction)
//	<store>/extracted/<version>/<platform>_<arch>/vault
//
// Concurrent resolutions of the same artifact share one download.
package artifact
