//go:build unix

package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/embedded-vault/internal/lifecycle"
	"github.com/nerrad567/embedded-vault/internal/readiness"
)

// Fake server scripts. Each ignores its arguments.
const (
	readyScript = `#!/bin/sh
echo "==> Vault server configuration:"
echo ""
echo "             Api Address: http://127.0.0.1:8200"
echo "==> Vault server started! Log data will stream in below:"
echo "Unseal Key: c2VjcmV0LWtleQ=="
echo "Root Token: root"
echo "dev server warning" >&2
exec sleep 60
`

	failingScript = `#!/bin/sh
echo "==> Vault server configuration:"
echo "Error something went wrong: listener already in use"
echo "more detail"
exit 1
`

	stubbornScript = `#!/bin/sh
trap '' TERM
echo "==> Vault server started! Log data will stream in below:"
while true; do sleep 1; done
`

	silentScript = `#!/bin/sh
echo $$ > "$PIDFILE"
exec sleep 60
`

	earlyExitScript = `#!/bin/sh
echo "booting"
exit 0
`
)

// lineRecorder collects lines for assertions.
type lineRecorder struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (r *lineRecorder) OnLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) OnClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// gatedRecorder records a line only after it has been released, and
// optionally sleeps before each one.
type gatedRecorder struct {
	lineRecorder
	release <-chan struct{}
	delay   time.Duration
}

func (g *gatedRecorder) OnLine(line string) {
	if g.release != nil {
		<-g.release
	}
	time.Sleep(g.delay)
	g.lineRecorder.OnLine(line)
}

func (g *gatedRecorder) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func writeFakeServer(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func testSettings(t *testing.T, timeout time.Duration) Settings {
	t.Helper()
	s, err := NewBuilder().RandomPort().StartupTimeout(timeout).Build()
	require.NoError(t, err)
	return s
}

func testOptions(t *testing.T) Options {
	return Options{
		TempDir:          t.TempDir(),
		GracefulTimeout:  2 * time.Second,
		KillTimeout:      5 * time.Second,
		FailureExitGrace: time.Second,
	}
}

func TestStart_DefaultPort(t *testing.T) {
	settings, err := NewBuilder().StartupTimeout(10 * time.Second).Build()
	require.NoError(t, err)

	sup := NewSupervisor(testOptions(t))
	srv, err := sup.Start(context.Background(), settings, writeFakeServer(t, readyScript))
	require.NoError(t, err)
	defer srv.Close()

	assert.Equal(t, 8200, srv.ListenerPort())
	assert.Equal(t, "127.0.0.1:8200", srv.Address())
	assert.True(t, srv.IsRunning())
}

func TestStart_RandomPort(t *testing.T) {
	sup := NewSupervisor(testOptions(t))
	srv, err := sup.Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)
	defer srv.Close()

	assert.NotEqual(t, 8200, srv.ListenerPort())
	assert.Positive(t, srv.ListenerPort())
}

func TestStart_OutputConsumerSawReadyLine(t *testing.T) {
	out := &lineRecorder{}
	errOut := &lineRecorder{}
	opts := testOptions(t)
	opts.Output = out
	opts.ErrorOutput = errOut

	srv, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)

	sawReady := false
	for _, line := range out.snapshot() {
		if strings.Contains(line, readiness.DefaultSuccessMarker) {
			sawReady = true
		}
	}
	assert.True(t, sawReady, "consumer should have seen the ready line")

	require.NoError(t, srv.Stop())
	srv.Cleanup()

	assert.Contains(t, errOut.snapshot(), "dev server warning")
	assert.Contains(t, srv.ErrorOutput(), "dev server warning")
}

func TestStart_BlockedOutputConsumerDoesNotStallStartup(t *testing.T) {
	release := make(chan struct{})
	out := &gatedRecorder{release: release}
	opts := testOptions(t)
	opts.Output = out
	opts.ConsumerSyncTimeout = 200 * time.Millisecond
	opts.ReaderJoinTimeout = 3 * time.Second

	srv, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 5*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)
	assert.True(t, srv.IsRunning())
	assert.Empty(t, out.snapshot())

	require.NoError(t, srv.Stop())
	began := time.Now()
	srv.Cleanup()
	assert.Less(t, time.Since(began), opts.ReaderJoinTimeout)

	close(release)
	assert.Eventually(t, out.isClosed, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.snapshot(), "Root Token: root")
}

func TestStart_SlowOutputConsumerSawReadyLine(t *testing.T) {
	out := &gatedRecorder{delay: 30 * time.Millisecond}
	opts := testOptions(t)
	opts.Output = out

	srv, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)
	defer srv.Close()

	sawReady := false
	for _, line := range out.snapshot() {
		if strings.Contains(line, readiness.DefaultSuccessMarker) {
			sawReady = true
		}
	}
	assert.True(t, sawReady, "slow consumer should have been handed the ready line")
	assert.Zero(t, srv.Stats().DroppedLines)
}

func TestStart_UnsealKeyAndToken(t *testing.T) {
	srv, err := NewSupervisor(testOptions(t)).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	key, err := srv.AwaitUnsealKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2VjcmV0LWtleQ==", key)
	assert.Equal(t, key, srv.UnsealKey())
	assert.NotEmpty(t, srv.RootToken())
	assert.True(t, srv.Stats().UnsealKeySeen)
}

func TestStart_FailureMarker(t *testing.T) {
	rec := &lifecycle.Recorder{}
	opts := testOptions(t)
	opts.Sink = rec

	srv, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, failingScript))
	require.Error(t, err)
	assert.Nil(t, srv)

	var startupErr *StartupError
	require.True(t, errors.As(err, &startupErr))
	assert.Equal(t, readiness.Failed, startupErr.Outcome)
	assert.True(t, startupErr.Exited)
	assert.Equal(t, 1, startupErr.ExitCode)
	assert.Contains(t, startupErr.Reason, "something")
	assert.Contains(t, startupErr.Diagnostics(), "more detail")
	assert.Contains(t, err.Error(), "something")

	assert.Equal(t, []lifecycle.Kind{
		lifecycle.KindStarting,
		lifecycle.KindCleanedUp,
		lifecycle.KindStartupFailed,
	}, rec.Kinds())

	entries, readErr := os.ReadDir(opts.TempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "config file should be removed after a failed start")
}

func TestStart_ExitWithoutMarker(t *testing.T) {
	_, err := NewSupervisor(testOptions(t)).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, earlyExitScript))

	var startupErr *StartupError
	require.True(t, errors.As(err, &startupErr))
	assert.Equal(t, readiness.MarkerNotFound, startupErr.Reason)
	assert.True(t, startupErr.Exited)
	assert.Equal(t, 0, startupErr.ExitCode)
	assert.Contains(t, startupErr.Diagnostics(), markerNotFoundHeader)
	assert.Contains(t, startupErr.Diagnostics(), "booting")
}

func TestStart_TimeoutKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	opts := testOptions(t)
	opts.Env = []string{"PIDFILE=" + pidFile}
	opts.FailureExitGrace = 100 * time.Millisecond

	started := time.Now()
	_, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 300*time.Millisecond), writeFakeServer(t, silentScript))
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 300*time.Millisecond)

	var startupErr *StartupError
	require.True(t, errors.As(err, &startupErr))
	assert.Equal(t, readiness.TimedOut, startupErr.Outcome)
	assert.False(t, startupErr.Exited)
	assert.Contains(t, err.Error(), "process was still running")

	data, readErr := os.ReadFile(pidFile)
	require.NoError(t, readErr)
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, convErr)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "process should be gone")
}

func TestStart_ContextCancelled(t *testing.T) {
	opts := testOptions(t)
	opts.Env = []string{"PIDFILE=" + filepath.Join(t.TempDir(), "pid")}
	opts.FailureExitGrace = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := NewSupervisor(opts).Start(ctx, testSettings(t, 10*time.Second), writeFakeServer(t, silentScript))

	var startupErr *StartupError
	require.True(t, errors.As(err, &startupErr))
	assert.Equal(t, readiness.Interrupted, startupErr.Outcome)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart_LaunchError(t *testing.T) {
	opts := testOptions(t)
	_, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, time.Second), filepath.Join(t.TempDir(), "missing"))

	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Contains(t, launchErr.Executable, "missing")

	entries, readErr := os.ReadDir(opts.TempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestStart_NoExecutable(t *testing.T) {
	_, err := NewSupervisor(Options{}).Start(context.Background(), testSettings(t, time.Second), "")
	assert.ErrorIs(t, err, ErrNoExecutable)
}

func TestStop_Idempotent(t *testing.T) {
	rec := &lifecycle.Recorder{}
	opts := testOptions(t)
	opts.Sink = rec

	sup := NewSupervisor(opts)
	srv, err := sup.Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sup.Stop(srv)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.False(t, srv.IsRunning())

	sup.Cleanup(srv)
	sup.Cleanup(srv)

	stopping := 0
	for _, kind := range rec.Kinds() {
		if kind == lifecycle.KindStopping {
			stopping++
		}
	}
	assert.Equal(t, 1, stopping)
	assert.Equal(t, lifecycle.KindCleanedUp, rec.Kinds()[len(rec.Kinds())-1])
}

func TestStop_EscalatesOnUnresponsiveProcess(t *testing.T) {
	rec := &lifecycle.Recorder{}
	opts := testOptions(t)
	opts.Sink = rec
	opts.GracefulTimeout = 200 * time.Millisecond

	srv, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, stubbornScript))
	require.NoError(t, err)

	began := time.Now()
	require.NoError(t, srv.Stop())
	assert.Less(t, time.Since(began), opts.GracefulTimeout+opts.KillTimeout)
	assert.False(t, srv.IsRunning())
	assert.Contains(t, rec.Kinds(), lifecycle.KindEscalated)
	assert.Equal(t, 1, srv.Stats().Process.ForcefulStops)

	srv.Cleanup()
}

func TestCleanup_RemovesConfigFile(t *testing.T) {
	srv, err := NewSupervisor(testOptions(t)).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)

	path := srv.ConfigPath()
	require.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cluster_name":"dev"`)

	srv.Cleanup()
	assert.NoFileExists(t, path)
	assert.Empty(t, srv.CleanupWarnings())
	assert.False(t, srv.IsRunning())
}

func TestCleanup_UndeletableConfigFileIsAWarning(t *testing.T) {
	srv, err := NewSupervisor(testOptions(t)).Start(context.Background(), testSettings(t, 10*time.Second), writeFakeServer(t, readyScript))
	require.NoError(t, err)

	blocked := filepath.Join(t.TempDir(), "config-dir")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0o755))
	srv.configPath = blocked

	srv.Cleanup()
	assert.False(t, srv.IsRunning())
	assert.DirExists(t, blocked)

	warnings := srv.CleanupWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, blocked, warnings[0].Path)

	var pathErr *os.PathError
	require.True(t, errors.As(warnings[0], &pathErr))
	assert.Equal(t, blocked, pathErr.Path)

	srv.Cleanup()
	assert.Len(t, srv.CleanupWarnings(), 1)
}

func TestStop_NilServer(t *testing.T) {
	sup := NewSupervisor(Options{})
	assert.ErrorIs(t, sup.Stop(nil), ErrNilServer)
	sup.Cleanup(nil)
}

func TestStart_ConfirmListenerTimesOut(t *testing.T) {
	opts := testOptions(t)
	opts.ConfirmListener = true
	opts.FailureExitGrace = 100 * time.Millisecond

	_, err := NewSupervisor(opts).Start(context.Background(), testSettings(t, 500*time.Millisecond), writeFakeServer(t, readyScript))

	var startupErr *StartupError
	require.True(t, errors.As(err, &startupErr))
	assert.Equal(t, readiness.TimedOut, startupErr.Outcome)
	assert.Contains(t, startupErr.Reason, "listener")
}
