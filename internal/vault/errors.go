package vault

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/embedded-vault/internal/readiness"
)

// Domain errors for the vault supervisor.
var (
	// ErrNoExecutable is returned when start is called without an executable path.
	ErrNoExecutable = errors.New("vault: executable path is required")

	// ErrNilServer is returned by supervisor operations given a nil server.
	ErrNilServer = errors.New("vault: server is nil")
)

// markerNotFoundHeader introduces the raw output when no failure line was seen.
const markerNotFoundHeader = "The failure message was not found. The process output may contain the cause:"

// LaunchError reports that the executable could not be spawned.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// StartupError reports that readiness was not confirmed. The process has
// been killed by the time the error is returned.
type StartupError struct {
	// Outcome is Failed, TimedOut or Interrupted.
	Outcome readiness.Kind

	// Reason is the failure line from the marker onward, or a description
	// of the timeout.
	Reason string

	// Exited reports whether the process had already exited on its own when
	// the failure was handled; ExitCode is meaningful only then.
	Exited   bool
	ExitCode int

	// FailureContext is the failure line plus the lines that followed it.
	FailureContext string

	// Output and ErrorOutput are the retained stdout and stderr tails.
	Output      string
	ErrorOutput string

	// Err is an underlying cause such as a cancelled context, if any.
	Err error
}

func (e *StartupError) Error() string {
	var b strings.Builder
	b.WriteString("could not start vault (")
	b.WriteString(string(e.Outcome))
	if e.Exited {
		fmt.Fprintf(&b, ", exit code %d", e.ExitCode)
	} else {
		b.WriteString(", process was still running")
	}
	b.WriteString("): ")
	b.WriteString(e.Reason)

	if diag := e.Diagnostics(); diag != "" {
		b.WriteString("\n")
		b.WriteString(diag)
	}
	return b.String()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Diagnostics returns the failure context, or the retained output headed by
// a note when no failure line was found.
func (e *StartupError) Diagnostics() string {
	var b strings.Builder
	if e.FailureContext != "" && e.Reason != readiness.MarkerNotFound {
		b.WriteString(e.FailureContext)
	} else if e.Output != "" {
		b.WriteString(markerNotFoundHeader)
		b.WriteString("\n")
		b.WriteString(e.Output)
	}
	if e.ErrorOutput != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(e.ErrorOutput)
	}
	return strings.TrimRight(b.String(), "\n")
}

// StopError reports that the process did not exit after a forceful stop.
// Cleanup still runs.
type StopError struct {
	PID     int
	Timeout time.Duration
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("vault pid %d did not exit within %s of kill: %v", e.PID, e.Timeout, e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}

// CleanupWarning reports a temp file that could not be removed. It is
// logged and kept on the server, never returned.
type CleanupWarning struct {
	Path string
	Err  error
}

func (e *CleanupWarning) Error() string {
	return fmt.Sprintf("removing %s: %v", e.Path, e.Err)
}

func (e *CleanupWarning) Unwrap() error {
	return e.Err
}
