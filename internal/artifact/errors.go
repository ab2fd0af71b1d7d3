package artifact

import (
	"errors"
	"fmt"
)

// Domain errors for artifact provisioning.
var (
	// ErrChecksumMismatch is returned when a downloaded archive does not
	// match its published digest.
	ErrChecksumMismatch = errors.New("artifact: checksum mismatch")

	// ErrChecksumNotFound is returned when the sums file has no entry for
	// the archive.
	ErrChecksumNotFound = errors.New("artifact: checksum not published")

	// ErrExecutableNotInArchive is returned when the archive lacks the
	// expected executable.
	ErrExecutableNotInArchive = errors.New("artifact: executable not found in archive")

	// ErrNotCached is returned by Lookup for an artifact that is not indexed.
	ErrNotCached = errors.New("artifact: not cached")
)

// DownloadError reports a failed HTTP fetch.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("downloading %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
