package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// State represents the lifecycle state of a Handle.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateExited     State = "exited"
)

// Command describes the process to launch.
type Command struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string
}

// Logger defines the logging interface for the process handle.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle owns one OS process. A Handle is single-use.
type Handle struct {
	command Command
	logger  Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	state     State
	startTime time.Time
	exitTime  time.Time
	exitCode  int
	exitErr   error
	graceful  int
	forceful  int

	done chan struct{}
}

// New creates a handle for command. Nothing is started.
func New(command Command) *Handle {
	if command.Name == "" {
		command.Name = command.Binary
	}
	return &Handle{
		command:  command,
		logger:   noopLogger{},
		state:    StateNotStarted,
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the handle.
func (h *Handle) SetLogger(logger Logger) {
	h.logger = logger
}

// Command returns the command the handle was created with.
func (h *Handle) Command() Command {
	return h.command
}

// Start launches the process and returns the read ends of its stdout and
// stderr. The caller owns both readers and must close them.
//
// The pipes are created here rather than through exec.Cmd.StdoutPipe so
// that reaping the child does not close them before readers reach EOF.
func (h *Handle) Start() (stdout, stderr io.ReadCloser, err error) {
	if h.command.Binary == "" {
		return nil, nil, ErrEmptyBinary
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateNotStarted {
		return nil, nil, fmt.Errorf("%s: %w", h.command.Name, ErrAlreadyStarted)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	h.logger.Info("starting process",
		"name", h.command.Name,
		"binary", h.command.Binary,
	)

	cmd := exec.Command(h.command.Binary, h.command.Args...) //nolint:gosec // binary comes from the artifact store or caller
	configureProcAttr(cmd)
	if h.command.Env != nil {
		cmd.Env = append(os.Environ(), h.command.Env...)
	}
	if h.command.WorkDir != "" {
		cmd.Dir = h.command.WorkDir
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	startErr := cmd.Start()

	// The child holds its own copies of the write ends.
	closeAll(outW, errW)

	if startErr != nil {
		closeAll(outR, errR)
		return nil, nil, fmt.Errorf("starting %s: %w", h.command.Name, startErr)
	}

	h.cmd = cmd
	h.state = StateRunning
	h.startTime = time.Now()

	go h.monitor(cmd)

	h.logger.Info("process started",
		"name", h.command.Name,
		"pid", cmd.Process.Pid,
	)

	return outR, errR, nil
}

// monitor reaps the process and records its exit status.
func (h *Handle) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	h.mu.Lock()
	h.state = StateExited
	h.exitTime = time.Now()
	h.exitCode = code
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		h.exitErr = err
	}
	uptime := h.exitTime.Sub(h.startTime)
	h.mu.Unlock()

	h.logger.Info("process exited",
		"name", h.command.Name,
		"pid", cmd.Process.Pid,
		"exit_code", code,
		"uptime", uptime,
	)

	close(h.done)
}

// IsRunning reports whether the OS process is alive right now.
func (h *Handle) IsRunning() bool {
	h.mu.RLock()
	cmd := h.cmd
	state := h.state
	h.mu.RUnlock()

	if cmd == nil || state == StateExited {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
	}
	return alive(cmd.Process)
}

// SendGracefulStop asks the process to shut down cooperatively. It reports
// whether the signal was delivered, not whether the process exited.
func (h *Handle) SendGracefulStop() (bool, error) {
	h.mu.Lock()
	if h.state != StateRunning && h.state != StateStopping {
		h.mu.Unlock()
		return false, nil
	}
	h.state = StateStopping
	h.graceful++
	pid := h.cmd.Process.Pid
	proc := h.cmd.Process
	h.mu.Unlock()

	h.logger.Info("sending graceful stop", "name", h.command.Name, "pid", pid)

	delivered, err := signalGraceful(proc)
	if err != nil {
		h.logger.Warn("graceful stop signal failed", "name", h.command.Name, "error", err)
	}
	return delivered, err
}

// SendForcefulStop kills the process unconditionally. It is a no-op once the
// process has exited.
func (h *Handle) SendForcefulStop() error {
	h.mu.Lock()
	if h.state != StateRunning && h.state != StateStopping {
		h.mu.Unlock()
		return nil
	}
	h.state = StateStopping
	h.forceful++
	pid := h.cmd.Process.Pid
	proc := h.cmd.Process
	h.mu.Unlock()

	h.logger.Warn("killing process", "name", h.command.Name, "pid", pid)

	if err := signalKill(proc); err != nil {
		return fmt.Errorf("killing %s: %w", h.command.Name, err)
	}
	return nil
}

// Wait blocks until the process exits or ctx is done and returns the exit
// code. A process terminated by a signal reports -1.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	h.mu.RLock()
	started := h.state != StateNotStarted
	h.mu.RUnlock()
	if !started {
		return -1, ErrNotStarted
	}

	select {
	case <-h.done:
		return h.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// WaitForExit waits at most timeout for the process to exit. It returns
// ErrWaitTimeout when the deadline passes first.
func (h *Handle) WaitForExit(timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	code, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return -1, fmt.Errorf("%s after %s: %w", h.command.Name, timeout, ErrWaitTimeout)
	}
	return code, err
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// PID returns the process ID, or 0 if never started.
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd != nil && h.cmd.Process != nil {
		return h.cmd.Process.Pid
	}
	return 0
}

// ExitCode returns the exit code, or -1 while running or after a signal kill.
func (h *Handle) ExitCode() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode
}

// Uptime returns how long the process has been (or was) running.
func (h *Handle) Uptime() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.startTime.IsZero():
		return 0
	case !h.exitTime.IsZero():
		return h.exitTime.Sub(h.startTime)
	default:
		return time.Since(h.startTime)
	}
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name          string        `json:"name"`
	State         State         `json:"state"`
	PID           int           `json:"pid,omitempty"`
	Uptime        time.Duration `json:"uptime,omitempty"`
	ExitCode      int           `json:"exit_code"`
	GracefulStops int           `json:"graceful_stops"`
	ForcefulStops int           `json:"forceful_stops"`
	LastError     string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (h *Handle) Stats() Stats {
	uptime := h.Uptime()

	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Name:          h.command.Name,
		State:         h.state,
		Uptime:        uptime,
		ExitCode:      h.exitCode,
		GracefulStops: h.graceful,
		ForcefulStops: h.forceful,
	}
	if h.cmd != nil && h.cmd.Process != nil {
		stats.PID = h.cmd.Process.Pid
	}
	if h.exitErr != nil {
		stats.LastError = h.exitErr.Error()
	}
	return stats
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
