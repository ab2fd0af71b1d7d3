package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// maxLineSize caps a single delivered line. Bytes beyond it are discarded
// until the next newline so one runaway line cannot exhaust memory.
const maxLineSize = 1 << 20 // 1MB

// readBufferSize is the bufio buffer used on the source stream.
const readBufferSize = 4096

// ErrAlreadyRunning is returned when Run is called more than once on a Tee.
var ErrAlreadyRunning = errors.New("stream: tee already running")

// LineObserver receives the lines of a stream.
//
// OnLine is called once per line with the trailing newline (and any
// carriage return) removed. OnClosed is called exactly once after the
// last line.
type LineObserver interface {
	OnLine(line string)
	OnClosed()
}

// ObserverFunc adapts a plain function to a LineObserver that ignores close.
type ObserverFunc func(line string)

// OnLine calls f(line).
func (f ObserverFunc) OnLine(line string) { f(line) }

// OnClosed does nothing.
func (ObserverFunc) OnClosed() {}

// Logger defines the logging interface for the tee.
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

// Tee forwards every line of one source stream to a fixed, ordered list of observers.
//
// Thread Safety:
//   - Run must be called once; it blocks on the calling goroutine.
//   - Done, Lines and Err are safe to call from any goroutine.
type Tee struct {
	name      string
	observers []LineObserver
	logger    Logger

	running atomic.Bool
	lines   atomic.Int64
	panics  atomic.Int64

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// NewTee creates a tee named after its stream (used in log fields).
// Nil observers are skipped.
func NewTee(name string, observers ...LineObserver) *Tee {
	obs := make([]LineObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			obs = append(obs, o)
		}
	}
	return &Tee{
		name:      name,
		observers: obs,
		logger:    noopLogger{},
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the tee. Must be called before Run.
func (t *Tee) SetLogger(logger Logger) {
	t.logger = logger
}

// Name returns the stream name given to NewTee.
func (t *Tee) Name() string {
	return t.name
}

// Run reads r line by line until EOF or a read error and delivers each line
// to every observer. It returns nil on EOF and the read error otherwise.
// OnClosed has been delivered to all observers by the time Run returns.
func (t *Tee) Run(r io.Reader) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	err := t.pump(r)

	for _, o := range t.observers {
		t.closeObserver(o)
	}

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	close(t.done)

	return err
}

// pump is the read loop; it returns nil on a clean EOF.
func (t *Tee) pump(r io.Reader) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	var sb strings.Builder
	truncated := false
	current := func() string {
		if truncated {
			return trimPartialRune(sb.String())
		}
		return sb.String()
	}

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 && !truncated {
			room := maxLineSize - sb.Len()
			if len(chunk) > room {
				sb.Write(chunk[:room])
				truncated = true
			} else {
				sb.Write(chunk)
			}
		}

		switch {
		case err == nil:
			t.emit(current())
			sb.Reset()
			truncated = false
		case errors.Is(err, bufio.ErrBufferFull):
			// line continues past the buffer; keep accumulating
		case errors.Is(err, io.EOF):
			if sb.Len() > 0 {
				t.emit(current())
			}
			return nil
		default:
			if sb.Len() > 0 {
				t.emit(current())
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", t.name, err)
		}
	}
}

// trimPartialRune drops a UTF-8 sequence left incomplete at the end of s.
func trimPartialRune(s string) string {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if utf8.FullRuneInString(s[i:]) {
				return s
			}
			return s[:i]
		}
	}
	return s
}

// emit delivers one line to all observers in order.
func (t *Tee) emit(raw string) {
	line := strings.TrimRight(raw, "\r\n")
	t.lines.Add(1)
	for i, o := range t.observers {
		t.deliver(i, o, line)
	}
}

// deliver calls OnLine, containing any panic to this observer and line.
func (t *Tee) deliver(idx int, o LineObserver, line string) {
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			t.logger.Warn("stream observer panicked",
				"stream", t.name,
				"observer", idx,
				"panic", r,
			)
		}
	}()
	o.OnLine(line)
}

// closeObserver calls OnClosed, containing any panic.
func (t *Tee) closeObserver(o LineObserver) {
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			t.logger.Warn("stream observer panicked on close", "stream", t.name, "panic", r)
		}
	}()
	o.OnClosed()
}

// Done is closed once Run has returned and every observer saw OnClosed.
func (t *Tee) Done() <-chan struct{} {
	return t.done
}

// Err returns the read error that ended Run, or nil.
func (t *Tee) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Lines returns how many lines have been delivered so far.
func (t *Tee) Lines() int64 {
	return t.lines.Load()
}

// Panics returns how many observer calls panicked.
func (t *Tee) Panics() int64 {
	return t.panics.Load()
}
