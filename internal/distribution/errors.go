package distribution

import "errors"

// Domain errors for distribution resolution.
var (
	// ErrUnsupportedPlatform is returned for an operating system with no release.
	ErrUnsupportedPlatform = errors.New("distribution: unsupported platform")

	// ErrUnsupportedArch is returned for an architecture with no release.
	ErrUnsupportedArch = errors.New("distribution: unsupported architecture")

	// ErrNoVersion is returned when a descriptor is requested without a version.
	ErrNoVersion = errors.New("distribution: version is required")
)
