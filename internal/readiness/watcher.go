package readiness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/embedded-vault/internal/stream"
)

// Default markers printed by a Vault dev server.
const (
	DefaultSuccessMarker = "==> Vault server started!"
	DefaultFailureMarker = "Error "
)

// DefaultContextCap bounds the failure context collected after a failure marker.
const DefaultContextCap = 16 * 1024

// MarkerNotFound is the failure reason used when the stream closed without
// any marker.
const MarkerNotFound = "marker not found; full output attached"

// Kind is the tag of an Outcome.
type Kind string

const (
	Pending     Kind = "pending"
	Ready       Kind = "ready"
	Failed      Kind = "failed"
	TimedOut    Kind = "timed_out"
	Interrupted Kind = "interrupted"
)

// Outcome is the result of readiness detection.
type Outcome struct {
	Kind Kind

	// Reason is the failure text for Failed: the matched line from the
	// failure marker onward, or MarkerNotFound.
	Reason string

	// Marker is the failure marker that matched, if any.
	Marker string
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}

// Config holds the detection protocol for a Watcher.
type Config struct {
	// SuccessMarker is matched as a substring of each line.
	SuccessMarker string

	// FailureMarkers are matched as substrings in order; the first match wins.
	FailureMarkers []string

	// ContextCap is the maximum number of bytes of failure context kept.
	ContextCap int

	// TailSize is the number of bytes of recent output retained.
	TailSize int
}

// DefaultConfig returns the Vault dev server protocol.
func DefaultConfig() Config {
	return Config{
		SuccessMarker:  DefaultSuccessMarker,
		FailureMarkers: []string{DefaultFailureMarker},
		ContextCap:     DefaultContextCap,
		TailSize:       stream.DefaultTailSize,
	}
}

// Logger defines the logging interface for the watcher.
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

// Watcher scans delivered lines and records the first readiness outcome.
//
// Thread Safety:
//   - OnLine and OnClosed are called by a single tee goroutine.
//   - Await, Outcome, FailureContext and Output are safe from any goroutine.
type Watcher struct {
	cfg    Config
	logger Logger
	tail   *stream.Tail

	mu         sync.Mutex
	outcome    Outcome
	collecting bool
	failure    strings.Builder
	truncated  bool
	lines      int64

	decided   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Watcher. Zero values in cfg fall back to DefaultConfig.
func New(cfg Config) *Watcher {
	def := DefaultConfig()
	if cfg.SuccessMarker == "" {
		cfg.SuccessMarker = def.SuccessMarker
	}
	if cfg.FailureMarkers == nil {
		cfg.FailureMarkers = def.FailureMarkers
	}
	if cfg.ContextCap <= 0 {
		cfg.ContextCap = def.ContextCap
	}
	if cfg.TailSize <= 0 {
		cfg.TailSize = def.TailSize
	}

	return &Watcher{
		cfg:     cfg,
		logger:  noopLogger{},
		tail:    stream.NewTail(cfg.TailSize),
		outcome: Outcome{Kind: Pending},
		decided: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// OnLine applies the detection protocol to one line.
func (w *Watcher) OnLine(line string) {
	w.tail.Append(line)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lines++
	if w.collecting {
		w.appendContext(line)
		return
	}
	if w.outcome.Kind != Pending {
		return
	}

	for _, marker := range w.cfg.FailureMarkers {
		if marker == "" {
			continue
		}
		if idx := strings.Index(line, marker); idx >= 0 {
			rest := line[idx:]
			w.collecting = true
			w.appendContext(rest)
			w.decide(Outcome{Kind: Failed, Reason: rest, Marker: marker})
			return
		}
	}

	if strings.Contains(line, w.cfg.SuccessMarker) {
		w.decide(Outcome{Kind: Ready})
	}
}

// OnClosed ends scanning. Without a prior decision the outcome becomes
// Failed with MarkerNotFound.
func (w *Watcher) OnClosed() {
	w.mu.Lock()
	if w.outcome.Kind == Pending {
		w.decide(Outcome{Kind: Failed, Reason: MarkerNotFound})
	}
	w.collecting = false
	w.mu.Unlock()

	w.closeOnce.Do(func() {
		w.tail.OnClosed()
		close(w.closed)
	})
}

// decide records the outcome. Callers hold w.mu; only the first call has effect.
func (w *Watcher) decide(o Outcome) {
	if w.outcome.Kind != Pending {
		return
	}
	w.outcome = o
	close(w.decided)
	w.logger.Debug("readiness decided", "outcome", o.Kind, "lines", w.lines)
}

func (w *Watcher) appendContext(s string) {
	if w.truncated {
		return
	}
	if w.failure.Len() > 0 {
		s = "\n" + s
	}
	room := w.cfg.ContextCap - w.failure.Len()
	if len(s) > room {
		s = s[:room]
		w.truncated = true
	}
	w.failure.WriteString(s)
}

// Await blocks until an outcome is decided, the timeout elapses or ctx is done.
//
// Elapsing the timeout returns TimedOut; the watcher keeps scanning so a later
// call may still observe a decision. A cancelled ctx returns Interrupted with
// ctx.Err(). A non-positive timeout waits on ctx alone.
func (w *Watcher) Await(ctx context.Context, timeout time.Duration) (Outcome, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-w.decided:
		return w.Outcome(), nil
	case <-expired:
		// A decision racing the timer wins.
		select {
		case <-w.decided:
			return w.Outcome(), nil
		default:
		}
		return Outcome{Kind: TimedOut, Reason: fmt.Sprintf("no readiness marker within %s", timeout)}, nil
	case <-ctx.Done():
		return Outcome{Kind: Interrupted, Reason: ctx.Err().Error()}, ctx.Err()
	}
}

// Outcome returns the decided outcome, or Pending.
func (w *Watcher) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Decided is closed once an outcome has been recorded.
func (w *Watcher) Decided() <-chan struct{} {
	return w.decided
}

// Closed is closed once the watched stream has ended.
func (w *Watcher) Closed() <-chan struct{} {
	return w.closed
}

// FailureContext returns the text collected from the failure marker onward.
// For MarkerNotFound it returns the retained output instead.
func (w *Watcher) FailureContext() string {
	w.mu.Lock()
	ctxText := w.failure.String()
	reason := w.outcome.Reason
	w.mu.Unlock()

	if ctxText == "" && reason == MarkerNotFound {
		return w.tail.String()
	}
	return ctxText
}

// Output returns the retained tail of everything the stream produced.
func (w *Watcher) Output() string {
	return w.tail.String()
}

// Tail exposes the retained output buffer.
func (w *Watcher) Tail() *stream.Tail {
	return w.tail
}

// Lines returns how many lines the watcher has seen.
func (w *Watcher) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}
