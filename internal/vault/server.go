package vault

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/embedded-vault/internal/lifecycle"
	"github.com/nerrad567/embedded-vault/internal/process"
	"github.com/nerrad567/embedded-vault/internal/readiness"
	"github.com/nerrad567/embedded-vault/internal/stream"
)

// Server is a running dev server returned by Supervisor.Start.
//
// Stop and Cleanup are safe to call more than once and from several
// goroutines. A Server must not be reused after Cleanup.
type Server struct {
	id         string
	settings   Settings
	executable string
	configPath string
	opts       Options
	logger     Logger

	handle     *process.Handle
	stdout     io.ReadCloser
	stderr     io.ReadCloser
	stdoutTee  *stream.Tee
	stderrTee  *stream.Tee
	watcher    *readiness.Watcher
	scraper    *unsealKeyScraper
	stderrTail *stream.Tail

	outputQueue *stream.QueuedObserver
	errorQueue  *stream.QueuedObserver

	readersDone chan struct{}
	readerErr   error

	startedAt time.Time
	readyAt   time.Time

	stopMu  sync.Mutex
	stopped bool

	cleanMu sync.Mutex
	cleaned bool

	warnMu   sync.Mutex
	warnings []*CleanupWarning
}

// Stop shuts the server down: graceful signal, then a kill if it is still
// running after the graceful timeout, then a bounded wait. Only the first
// call does anything; later calls return nil.
//
// A *StopError means the process outlived the kill wait. Cleanup should
// still be called.
func (srv *Server) Stop() error {
	srv.stopMu.Lock()
	defer srv.stopMu.Unlock()

	if srv.stopped {
		return nil
	}
	srv.stopped = true

	began := time.Now()
	pid := srv.handle.PID()
	srv.emit(lifecycle.KindStopping, began, nil)

	if !srv.handle.IsRunning() {
		srv.logger.Info("vault already exited", "id", srv.id, "pid", pid)
		srv.emit(lifecycle.KindStopped, began, nil)
		return nil
	}

	srv.logger.Info("stopping vault", "id", srv.id, "pid", pid)
	if _, err := srv.handle.SendGracefulStop(); err != nil {
		srv.logger.Warn("graceful stop failed, will kill", "id", srv.id, "error", err)
	}

	if _, err := srv.handle.WaitForExit(srv.opts.GracefulTimeout); err == nil {
		srv.logger.Info("vault stopped gracefully", "id", srv.id, "pid", pid)
		srv.emit(lifecycle.KindStopped, began, nil)
		return nil
	}

	srv.logger.Warn("graceful shutdown timeout, killing vault",
		"id", srv.id,
		"pid", pid,
		"timeout", srv.opts.GracefulTimeout,
	)
	srv.emit(lifecycle.KindEscalated, began, nil)

	if err := srv.handle.SendForcefulStop(); err != nil {
		srv.logger.Error("kill failed", "id", srv.id, "error", err)
	}
	if _, err := srv.handle.WaitForExit(srv.opts.KillTimeout); err != nil {
		stopErr := &StopError{PID: pid, Timeout: srv.opts.KillTimeout, Err: err}
		srv.logger.Error("vault did not exit after kill", "id", srv.id, "error", stopErr)
		srv.emit(lifecycle.KindStopFailed, began, stopErr)
		return stopErr
	}

	srv.logger.Info("vault killed", "id", srv.id, "pid", pid)
	srv.emit(lifecycle.KindStopped, began, nil)
	return nil
}

// Cleanup joins the output readers and deletes the generated config file.
// It stops the server first if Stop was never called. Failures are logged
// and kept as CleanupWarnings; Cleanup never fails.
func (srv *Server) Cleanup() {
	srv.cleanMu.Lock()
	defer srv.cleanMu.Unlock()

	if srv.cleaned {
		return
	}
	srv.cleaned = true
	began := time.Now()

	if err := srv.Stop(); err != nil {
		srv.logger.Warn("stop during cleanup failed", "id", srv.id, "error", err)
	}

	srv.joinReaders()
	srv.removeConfigFile()

	srv.logger.Debug("vault cleaned up", "id", srv.id)
	srv.emit(lifecycle.KindCleanedUp, began, nil)
}

// Close stops the server and cleans up. It returns the stop error, if any.
func (srv *Server) Close() error {
	err := srv.Stop()
	srv.Cleanup()
	return err
}

// joinReaders waits for both tees to reach EOF. Readers still blocked after
// ReaderJoinTimeout, for example because an orphaned grandchild holds the
// write end, are released by closing the pipes under them.
func (srv *Server) joinReaders() {
	if srv.readersDone == nil {
		return
	}

	select {
	case <-srv.readersDone:
	case <-time.After(srv.opts.ReaderJoinTimeout):
		srv.logger.Warn("output readers still open, closing pipes", "id", srv.id)
	}

	for _, c := range []io.Closer{srv.stdout, srv.stderr} {
		if c != nil {
			_ = c.Close()
		}
	}

	select {
	case <-srv.readersDone:
		if srv.readerErr != nil {
			srv.logger.Warn("output reader failed", "id", srv.id, "error", srv.readerErr)
		}
	case <-time.After(srv.opts.ReaderJoinTimeout):
		srv.logger.Error("output readers did not finish", "id", srv.id)
	}
}

// emit sends a lifecycle event for this server.
func (srv *Server) emit(kind lifecycle.Kind, since time.Time, err error) {
	event := lifecycle.Event{
		Kind:     kind,
		ServerID: srv.id,
		Version:  srv.settings.Version().String(),
		Address:  srv.settings.Address(),
		Time:     time.Now(),
		Duration: time.Since(since),
	}
	if srv.handle != nil {
		event.PID = srv.handle.PID()
	}
	if err != nil {
		event.Error = err.Error()
	}
	srv.opts.Sink.Emit(event)
}

// ID returns the supervisor-assigned instance id.
func (srv *Server) ID() string { return srv.id }

// PID returns the OS process id.
func (srv *Server) PID() int { return srv.handle.PID() }

// Settings returns the settings the server was started with.
func (srv *Server) Settings() Settings { return srv.settings }

// Executable returns the path of the running binary.
func (srv *Server) Executable() string { return srv.executable }

// ConfigPath returns the generated config file path.
func (srv *Server) ConfigPath() string { return srv.configPath }

// ListenerHost returns the listen host.
func (srv *Server) ListenerHost() string { return srv.settings.ListenerHost() }

// ListenerPort returns the listen port.
func (srv *Server) ListenerPort() int { return srv.settings.ListenerPort() }

// Address returns the listener host:port.
func (srv *Server) Address() string { return srv.settings.Address() }

// URL returns the HTTP base URL of the API.
func (srv *Server) URL() string { return "http://" + srv.dialAddress() }

// RootToken returns the dev-mode root token.
func (srv *Server) RootToken() string { return srv.settings.RootTokenID() }

// UnsealKey returns the unseal key printed by the server, or "" if it has
// not been printed yet.
func (srv *Server) UnsealKey() string {
	key, _ := srv.scraper.Key()
	return key
}

// AwaitUnsealKey blocks until the unseal key line has been seen, stdout has
// closed, or ctx is done.
func (srv *Server) AwaitUnsealKey(ctx context.Context) (string, error) {
	select {
	case <-srv.scraper.seen:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	key, ok := srv.scraper.Key()
	if !ok {
		return "", errors.New("vault output closed without an unseal key")
	}
	return key, nil
}

// Output returns the retained tail of stdout.
func (srv *Server) Output() string { return srv.watcher.Output() }

// ErrorOutput returns the retained tail of stderr.
func (srv *Server) ErrorOutput() string { return srv.stderrTail.String() }

// IsRunning reports whether the process is alive right now.
func (srv *Server) IsRunning() bool { return srv.handle.IsRunning() }

// Done is closed when the process exits.
func (srv *Server) Done() <-chan struct{} { return srv.handle.Done() }

// CleanupWarnings returns the problems recorded during cleanup.
func (srv *Server) CleanupWarnings() []*CleanupWarning {
	srv.warnMu.Lock()
	defer srv.warnMu.Unlock()
	return append([]*CleanupWarning(nil), srv.warnings...)
}

// dialAddress is Address with wildcard hosts replaced by loopback.
func (srv *Server) dialAddress() string {
	host := srv.settings.ListenerHost()
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, strconv.Itoa(srv.settings.ListenerPort()))
}

// Stats holds runtime statistics for a server.
type Stats struct {
	ID             string        `json:"id"`
	Version        string        `json:"version"`
	Address        string        `json:"address"`
	Process        process.Stats `json:"process"`
	StartupTime    time.Duration `json:"startup_time"`
	StdoutLines    int64         `json:"stdout_lines"`
	StderrLines    int64         `json:"stderr_lines"`
	ObserverPanics int64         `json:"observer_panics"`
	DroppedLines   int64         `json:"dropped_lines"`
	UnsealKeySeen  bool          `json:"unseal_key_seen"`
}

// Stats returns current statistics for the server.
func (srv *Server) Stats() Stats {
	_, seen := srv.scraper.Key()
	stats := Stats{
		ID:             srv.id,
		Version:        srv.settings.Version().String(),
		Address:        srv.settings.Address(),
		Process:        srv.handle.Stats(),
		StdoutLines:    srv.stdoutTee.Lines(),
		StderrLines:    srv.stderrTee.Lines(),
		ObserverPanics: srv.stdoutTee.Panics() + srv.stderrTee.Panics(),
		UnsealKeySeen:  seen,
	}
	for _, q := range []*stream.QueuedObserver{srv.outputQueue, srv.errorQueue} {
		if q != nil {
			stats.ObserverPanics += q.Panics()
			stats.DroppedLines += q.Dropped()
		}
	}
	if !srv.readyAt.IsZero() {
		stats.StartupTime = srv.readyAt.Sub(srv.startedAt)
	}
	return stats
}
