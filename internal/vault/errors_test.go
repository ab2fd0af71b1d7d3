package vault

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nerrad567/embedded-vault/internal/readiness"
)

func TestStartupError_Message(t *testing.T) {
	tests := []struct {
		name     string
		err      *StartupError
		contains []string
		excludes []string
	}{
		{
			name: "failed and exited",
			err: &StartupError{
				Outcome:        readiness.Failed,
				Reason:         "Error parsing config",
				Exited:         true,
				ExitCode:       1,
				FailureContext: "Error parsing config\nline 2",
				Output:         "banner\nError parsing config\nline 2",
			},
			contains: []string{"(failed, exit code 1)", "Error parsing config", "line 2"},
			excludes: []string{markerNotFoundHeader, "banner"},
		},
		{
			name: "timed out and still running",
			err: &StartupError{
				Outcome: readiness.TimedOut,
				Reason:  "no readiness marker within 1s",
				Output:  "banner",
			},
			contains: []string{"process was still running", markerNotFoundHeader, "banner"},
		},
		{
			name: "marker not found keeps the full output",
			err: &StartupError{
				Outcome:        readiness.Failed,
				Reason:         readiness.MarkerNotFound,
				Exited:         true,
				FailureContext: "tail",
				Output:         "whole output",
				ErrorOutput:    "panic: boom",
			},
			contains: []string{markerNotFoundHeader, "whole output", "stderr:\npanic: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				assert.Contains(t, msg, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, msg, unwanted)
			}
			assert.False(t, strings.HasSuffix(msg, "\n"))
		})
	}
}

func TestStartupError_Unwrap(t *testing.T) {
	err := error(&StartupError{Outcome: readiness.Interrupted, Err: context.Canceled})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTypedErrors_Unwrap(t *testing.T) {
	launch := &LaunchError{Executable: "/opt/vault", Err: os.ErrNotExist}
	assert.ErrorIs(t, launch, os.ErrNotExist)
	assert.Contains(t, launch.Error(), "/opt/vault")

	stop := &StopError{PID: 42, Timeout: time.Second, Err: errors.New("still there")}
	assert.Contains(t, stop.Error(), "pid 42")

	warning := &CleanupWarning{Path: "/tmp/x.json", Err: os.ErrPermission}
	assert.ErrorIs(t, warning, os.ErrPermission)
}

func TestUnsealKeyScraper(t *testing.T) {
	u := newUnsealKeyScraper()

	_, ok := u.Key()
	assert.False(t, ok)

	u.OnLine("==> Vault server started!")
	u.OnLine("  Unseal Key:   first  ")
	key, ok := u.Key()
	assert.True(t, ok)
	assert.Equal(t, "first", key)

	select {
	case <-u.seen:
	default:
		t.Fatal("seen should be closed after a key line")
	}

	u.OnLine("Unseal Key: second")
	key, _ = u.Key()
	assert.Equal(t, "second", key)

	u.OnClosed()
	u.OnClosed()
}

func TestUnsealKeyScraper_ClosedWithoutKey(t *testing.T) {
	srv := &Server{scraper: newUnsealKeyScraper()}
	srv.scraper.OnLine("nothing here")
	srv.scraper.OnClosed()

	_, err := srv.AwaitUnsealKey(context.Background())
	assert.Error(t, err)
	assert.Empty(t, srv.UnsealKey())
}

func TestAwaitUnsealKey_ContextDone(t *testing.T) {
	srv := &Server{scraper: newUnsealKeyScraper()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := srv.AwaitUnsealKey(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
