// Package distribution maps a host platform and architecture onto the
// release archive that contains the matching server binary.
//
// The mapping is a lookup table: each supported GOOS names a download
// platform segment and an executable name, and each supported GOARCH
// family names an architecture segment. Combinations missing from the
// tables fail with ErrUnsupportedPlatform or ErrUnsupportedArch.
//
// Usage:
//
//	d, err := distribution.Detect("0.10.1")
//	if err != nil {
//	    return err
//	}
//	url := baseURL + d.Path()
package distribution
