package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/embedded-vault/internal/lifecycle"
	"github.com/nerrad567/embedded-vault/internal/process"
	"github.com/nerrad567/embedded-vault/internal/readiness"
	"github.com/nerrad567/embedded-vault/internal/stream"
)

// Supervision defaults.
const (
	DefaultGracefulTimeout  = 5 * time.Second
	DefaultKillTimeout      = 10 * time.Second
	DefaultFailureExitGrace = 2 * time.Second
	DefaultReaderJoin       = 5 * time.Second
	DefaultConsumerSync     = 2 * time.Second

	// listenerPollInterval and listenerDialTimeout pace listener confirmation.
	listenerPollInterval = 100 * time.Millisecond
	listenerDialTimeout  = 500 * time.Millisecond
)

// Logger defines the logging interface for the supervisor.
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

// Options configures a Supervisor. Zero values take the defaults above.
type Options struct {
	// Output receives every stdout line through a bounded drop-oldest
	// queue, so a stuck consumer cannot stall the reader. Start waits up to
	// ConsumerSyncTimeout for Output to be handed the ready line.
	Output stream.LineObserver

	// ErrorOutput receives every stderr line through its own queue.
	ErrorOutput stream.LineObserver

	// ConsumerQueueSize is the queue length for Output and ErrorOutput.
	// Zero means stream.DefaultQueueSize.
	ConsumerQueueSize int

	// ConsumerSyncTimeout bounds how long Start waits for Output to catch
	// up with the ready line.
	ConsumerSyncTimeout time.Duration

	// Sink receives lifecycle events.
	Sink lifecycle.Sink

	// GracefulTimeout is how long stop waits after the graceful signal
	// before killing.
	GracefulTimeout time.Duration

	// KillTimeout bounds the wait for exit after a kill.
	KillTimeout time.Duration

	// FailureExitGrace is how long a failed start waits for the process
	// to exit on its own before killing it.
	FailureExitGrace time.Duration

	// ReaderJoinTimeout bounds how long cleanup waits for the output
	// readers to reach EOF before closing the pipes under them.
	ReaderJoinTimeout time.Duration

	// ConfirmListener additionally dials the listener after the ready
	// marker, within the remaining startup timeout.
	ConfirmListener bool

	// TempDir holds the generated config file. Empty means os.TempDir().
	TempDir string

	// Env holds extra environment variables for the server process.
	Env []string

	// CommandLine builds the server arguments. Defaults to CommandLine.
	CommandLine func(s Settings, configPath string) []string

	// Readiness holds the marker protocol. Defaults to readiness.DefaultConfig.
	Readiness readiness.Config
}

// Supervisor starts dev servers and hands back Server handles.
type Supervisor struct {
	opts   Options
	logger Logger
}

// NewSupervisor creates a supervisor. Zero values in opts take defaults.
func NewSupervisor(opts Options) *Supervisor {
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = DefaultGracefulTimeout
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = DefaultKillTimeout
	}
	if opts.FailureExitGrace <= 0 {
		opts.FailureExitGrace = DefaultFailureExitGrace
	}
	if opts.ReaderJoinTimeout <= 0 {
		opts.ReaderJoinTimeout = DefaultReaderJoin
	}
	if opts.ConsumerSyncTimeout <= 0 {
		opts.ConsumerSyncTimeout = DefaultConsumerSync
	}
	if opts.Sink == nil {
		opts.Sink = lifecycle.Discard
	}
	if opts.CommandLine == nil {
		opts.CommandLine = CommandLine
	}
	return &Supervisor{
		opts:   opts,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the supervisor and the servers it starts.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the server at executable with settings and blocks until it
// reports ready. It returns *LaunchError when the process cannot be spawned
// and *StartupError when readiness is not confirmed. In both cases no
// process is left running and the config file has been removed.
func (s *Supervisor) Start(ctx context.Context, settings Settings, executable string) (*Server, error) {
	if executable == "" {
		return nil, &LaunchError{Err: ErrNoExecutable}
	}

	srv := &Server{
		id:         uuid.NewString(),
		settings:   settings,
		executable: executable,
		opts:       s.opts,
		logger:     s.logger,
		startedAt:  time.Now(),
	}
	srv.emit(lifecycle.KindStarting, srv.startedAt, nil)

	configPath, err := writeConfigFile(s.opts.TempDir, settings)
	if err != nil {
		srv.emit(lifecycle.KindStartupFailed, srv.startedAt, err)
		return nil, fmt.Errorf("preparing vault config: %w", err)
	}
	srv.configPath = configPath

	args := s.opts.CommandLine(settings, configPath)
	srv.handle = process.New(process.Command{
		Name:   "vault",
		Binary: executable,
		Args:   args,
		Env:    s.opts.Env,
	})
	srv.handle.SetLogger(s.logger)

	s.logger.Info("starting vault",
		"id", srv.id,
		"version", settings.Version(),
		"address", settings.Address(),
		"config", configPath,
	)

	stdout, stderr, err := srv.handle.Start()
	if err != nil {
		srv.removeConfigFile()
		launchErr := &LaunchError{Executable: executable, Err: err}
		srv.emit(lifecycle.KindStartupFailed, srv.startedAt, launchErr)
		return nil, launchErr
	}
	srv.wireOutput(stdout, stderr)

	outcome, awaitErr := srv.watcher.Await(ctx, settings.StartupTimeout())
	if outcome.Kind == readiness.Ready {
		outcome, awaitErr = srv.confirmReady(ctx)
	}
	if outcome.Kind != readiness.Ready {
		return nil, srv.failStartup(outcome, awaitErr)
	}

	srv.syncOutput(ctx)

	srv.readyAt = time.Now()
	s.logger.Info("vault ready",
		"id", srv.id,
		"pid", srv.handle.PID(),
		"address", settings.Address(),
		"startup", srv.readyAt.Sub(srv.startedAt),
	)
	srv.emit(lifecycle.KindReady, srv.startedAt, nil)
	return srv, nil
}

// Stop stops srv. See Server.Stop.
func (s *Supervisor) Stop(srv *Server) error {
	if srv == nil {
		return ErrNilServer
	}
	return srv.Stop()
}

// Cleanup releases srv's resources. See Server.Cleanup.
func (s *Supervisor) Cleanup(srv *Server) {
	if srv == nil {
		return
	}
	srv.Cleanup()
}

// wireOutput attaches the tees and starts one reader per stream.
func (srv *Server) wireOutput(stdout, stderr io.ReadCloser) {
	srv.stdout = stdout
	srv.stderr = stderr

	srv.watcher = readiness.New(srv.opts.Readiness)
	srv.watcher.SetLogger(srv.logger)
	srv.scraper = newUnsealKeyScraper()
	srv.stderrTail = stream.NewTail(stream.DefaultTailSize)

	var output, errorOutput stream.LineObserver
	if srv.opts.Output != nil {
		srv.outputQueue = stream.Isolate(srv.opts.Output, srv.opts.ConsumerQueueSize)
		srv.outputQueue.SetLogger(srv.logger)
		output = srv.outputQueue
	}
	if srv.opts.ErrorOutput != nil {
		srv.errorQueue = stream.Isolate(srv.opts.ErrorOutput, srv.opts.ConsumerQueueSize)
		srv.errorQueue.SetLogger(srv.logger)
		errorOutput = srv.errorQueue
	}

	srv.stdoutTee = stream.NewTee("stdout", output, srv.scraper, srv.watcher)
	srv.stdoutTee.SetLogger(srv.logger)
	srv.stderrTee = stream.NewTee("stderr", errorOutput, srv.stderrTail)
	srv.stderrTee.SetLogger(srv.logger)

	var g errgroup.Group
	g.Go(func() error { return srv.stdoutTee.Run(stdout) })
	g.Go(func() error { return srv.stderrTee.Run(stderr) })

	srv.readersDone = make(chan struct{})
	go func() {
		srv.readerErr = g.Wait()
		close(srv.readersDone)
	}()
}

// syncOutput waits, within ConsumerSyncTimeout, for Output to be handed
// every stdout line up to the ready marker. A consumer that does not catch
// up is logged and left behind; it never fails the start.
func (srv *Server) syncOutput(ctx context.Context) {
	if srv.outputQueue == nil {
		return
	}
	syncCtx, cancel := context.WithTimeout(ctx, srv.opts.ConsumerSyncTimeout)
	defer cancel()
	if err := srv.outputQueue.Sync(syncCtx); err != nil {
		srv.logger.Warn("output consumer is behind the ready line",
			"id", srv.id,
			"timeout", srv.opts.ConsumerSyncTimeout,
			"dropped", srv.outputQueue.Dropped(),
		)
	}
}

// confirmReady checks that the process survived printing the ready marker
// and, when configured, that the listener accepts connections.
func (srv *Server) confirmReady(ctx context.Context) (readiness.Outcome, error) {
	if !srv.handle.IsRunning() {
		return readiness.Outcome{Kind: readiness.Failed, Reason: "process exited after reporting ready"}, nil
	}
	if !srv.opts.ConfirmListener {
		return readiness.Outcome{Kind: readiness.Ready}, nil
	}

	deadline := srv.startedAt.Add(srv.settings.StartupTimeout())
	if err := srv.waitForListener(ctx, deadline); err != nil {
		if ctx.Err() != nil {
			return readiness.Outcome{Kind: readiness.Interrupted, Reason: err.Error()}, ctx.Err()
		}
		return readiness.Outcome{Kind: readiness.TimedOut, Reason: err.Error()}, nil
	}
	return readiness.Outcome{Kind: readiness.Ready}, nil
}

// waitForListener polls the listener until it accepts a connection.
func (srv *Server) waitForListener(ctx context.Context, deadline time.Time) error {
	addr := srv.dialAddress()
	srv.logger.Debug("waiting for vault listener", "address", addr)

	dialer := net.Dialer{Timeout: listenerDialTimeout}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for vault listener: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for vault listener on %s", addr)
		}
		if !srv.handle.IsRunning() {
			return errors.New("vault process exited while waiting for listener")
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(listenerPollInterval):
		}
	}
}

// failStartup kills the process, releases everything and builds the
// StartupError for outcome.
func (srv *Server) failStartup(outcome readiness.Outcome, cause error) error {
	code, err := srv.handle.WaitForExit(srv.opts.FailureExitGrace)
	exited := err == nil
	if !exited {
		srv.logger.Warn("vault not ready and still running, killing",
			"id", srv.id,
			"pid", srv.handle.PID(),
			"outcome", outcome.Kind,
		)
		if killErr := srv.handle.SendForcefulStop(); killErr != nil {
			srv.logger.Error("killing vault after failed start", "id", srv.id, "error", killErr)
		}
		if _, err := srv.handle.WaitForExit(srv.opts.KillTimeout); err != nil {
			srv.logger.Error("vault did not exit after kill", "id", srv.id, "error", err)
		}
	}

	// Nothing is left to stop; cleanup only joins readers and removes the file.
	srv.stopMu.Lock()
	srv.stopped = true
	srv.stopMu.Unlock()
	srv.Cleanup()

	startupErr := &StartupError{
		Outcome:        outcome.Kind,
		Reason:         outcome.Reason,
		Exited:         exited,
		ExitCode:       code,
		FailureContext: srv.watcher.FailureContext(),
		Output:         srv.watcher.Output(),
		ErrorOutput:    srv.stderrTail.String(),
		Err:            cause,
	}

	srv.logger.Error("vault failed to start",
		"id", srv.id,
		"outcome", outcome.Kind,
		"exited", exited,
		"exit_code", code,
		"reason", outcome.Reason,
	)
	srv.emit(lifecycle.KindStartupFailed, srv.startedAt, startupErr)
	return startupErr
}

// removeConfigFile deletes the generated config file, recording a warning
// on failure.
func (srv *Server) removeConfigFile() {
	if srv.configPath == "" {
		return
	}
	err := os.Remove(srv.configPath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}
	warning := &CleanupWarning{Path: srv.configPath, Err: err}
	srv.logger.Warn("could not remove vault config file", "id", srv.id, "error", warning)
	srv.warnMu.Lock()
	srv.warnings = append(srv.warnings, warning)
	srv.warnMu.Unlock()
}
