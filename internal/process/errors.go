package process

import "errors"

// Domain errors for process handling.
var (
	// ErrAlreadyStarted is returned when Start is called on a used Handle.
	ErrAlreadyStarted = errors.New("process: already started")

	// ErrNotStarted is returned when waiting on a Handle that was never started.
	ErrNotStarted = errors.New("process: not started")

	// ErrWaitTimeout is returned when the process did not exit in time.
	ErrWaitTimeout = errors.New("process: wait for exit timed out")

	// ErrEmptyBinary is returned when Command.Binary is empty.
	ErrEmptyBinary = errors.New("process: binary path is empty")
)
