package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/config"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/influxdb"
	"github.com/nerrad567/embedded-vault/internal/lifecycle"
)

// fakeInflux serves the ping and write endpoints of an InfluxDB v2 server.
type fakeInflux struct {
	*httptest.Server

	mu          sync.Mutex
	bodies      []string
	queries     []string
	writeStatus int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeStatus: http.StatusNoContent}

	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Head("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/v2/write", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.queries = append(f.queries, req.URL.RawQuery)
		status := f.writeStatus
		f.mu.Unlock()

		if status != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected by test"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "embedded-vault-test-token",
		Org:           "embedded-vault",
		Bucket:        "lifecycle",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	client := connect(t, newFakeInflux(t))
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	client, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() should return a nil client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	url := f.URL
	f.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
}

func TestHealthCheck(t *testing.T) {
	client := connect(t, newFakeInflux(t))
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	_ = client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestRecordLifecycle(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.RecordLifecycle(lifecycle.Event{
		Kind:     lifecycle.KindReady,
		ServerID: "srv-1",
		Version:  "0.10.1",
		PID:      4242,
		Duration: 1500 * time.Millisecond,
		Time:     time.Now(),
	})
	client.Flush()

	body := f.written()
	for _, want := range []string{
		"vault_lifecycle,",
		"kind=ready",
		"server_id=srv-1",
		"version=0.10.1",
		"pid=4242i",
		"duration_ms=1500",
		"count=1i",
		"failed=false",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("written line protocol missing %q:\n%s", want, body)
		}
	}

	f.mu.Lock()
	query := f.queries[0]
	f.mu.Unlock()
	if !strings.Contains(query, "bucket=lifecycle") || !strings.Contains(query, "org=embedded-vault") {
		t.Errorf("write query = %q", query)
	}
}

func TestEmit_AsSink(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	var sink lifecycle.Sink = client
	sink.Emit(lifecycle.Event{Kind: lifecycle.KindStartupFailed, ServerID: "srv-2", Error: "listener in use"})
	client.Flush()

	body := f.written()
	if !strings.Contains(body, "kind=startup_failed") || !strings.Contains(body, "failed=true") {
		t.Errorf("written line protocol = %s", body)
	}
	if !strings.Contains(body, `error="listener in use"`) {
		t.Errorf("error field missing: %s", body)
	}
}

func TestWritePointWithTime(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	client.WritePointWithTime("artifact_download",
		map[string]string{"version": "0.10.1"},
		map[string]any{"bytes": int64(1024)},
		at,
	)
	client.Flush()

	body := f.written()
	if !strings.Contains(body, "artifact_download,version=0.10.1 bytes=1024i") {
		t.Errorf("written line protocol = %s", body)
	}
}

func TestSetOnError_CallbackInvoked(t *testing.T) {
	f := newFakeInflux(t)
	f.writeStatus = http.StatusBadRequest
	client := connect(t, f)

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoint("check", map[string]string{"t": "1"}, map[string]any{"v": 1.0})
	client.Flush()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error callback not invoked")
	}
}

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.RecordLifecycle(lifecycle.Event{Kind: lifecycle.KindStopped, ServerID: "srv-3"})
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !strings.Contains(f.written(), "kind=stopped") {
		t.Error("Close() should flush pending points")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes and flushes after close are no-ops.
	client.RecordLifecycle(lifecycle.Event{Kind: lifecycle.KindCleanedUp, ServerID: "srv-3"})
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
