package vault

import "slices"

// Version identifies a Vault release as it appears in download paths.
type Version string

// Known releases. Anything else is accepted as a custom version.
const (
	V0_7_3  Version = "0.7.3"
	V0_8_0  Version = "0.8.0"
	V0_9_0  Version = "0.9.0"
	V0_10_0 Version = "0.10.0"
	V0_10_1 Version = "0.10.1"
)

// DefaultVersion is the release used when none is configured.
const DefaultVersion = V0_10_1

// knownVersions lists the catalogue, oldest first.
var knownVersions = []Version{V0_7_3, V0_8_0, V0_9_0, V0_10_0, V0_10_1}

// deprecatedVersions are still downloadable but no longer recommended.
var deprecatedVersions = []Version{V0_7_3, V0_8_0, V0_9_0, V0_10_0}

// KnownVersions returns the catalogue, oldest first.
func KnownVersions() []Version {
	return slices.Clone(knownVersions)
}

// String implements fmt.Stringer.
func (v Version) String() string {
	return string(v)
}

// Known reports whether v is in the catalogue.
func (v Version) Known() bool {
	return slices.Contains(knownVersions, v)
}

// Deprecated reports whether v is a catalogued but superseded release.
func (v Version) Deprecated() bool {
	return slices.Contains(deprecatedVersions, v)
}
