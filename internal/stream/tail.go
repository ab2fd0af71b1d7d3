package stream

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultTailSize is the retention used by NewTail when maxBytes is not positive.
const DefaultTailSize = 64 * 1024

// Tail retains the most recent lines of a stream up to a byte limit.
// Older lines are discarded from the front once the limit is exceeded.
//
// Tail is a LineObserver and is safe for concurrent use.
type Tail struct {
	maxBytes int

	mu        sync.RWMutex
	lines     []string
	size      int
	total     int64
	discarded int64
	closed    bool
}

// NewTail creates a Tail holding at most maxBytes of output (newlines included).
func NewTail(maxBytes int) *Tail {
	if maxBytes <= 0 {
		maxBytes = DefaultTailSize
	}
	return &Tail{maxBytes: maxBytes}
}

// OnLine appends a line, trimming from the front when over the limit.
func (t *Tail) OnLine(line string) {
	t.Append(line)
}

// OnClosed records that the stream ended.
func (t *Tail) OnClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Append adds a line directly, for callers that are not driven by a Tee.
func (t *Tail) Append(line string) {
	if len(line)+1 > t.maxBytes {
		start := len(line) + 1 - t.maxBytes
		for start < len(line) && !utf8.RuneStart(line[start]) {
			start++
		}
		line = line[start:]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	t.total++

	for t.size > t.maxBytes && len(t.lines) > 0 {
		t.size -= len(t.lines[0]) + 1
		t.lines[0] = ""
		t.lines = t.lines[1:]
		t.discarded++
	}
}

// String returns the retained lines joined with newlines, each newline-terminated.
func (t *Tail) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.lines) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(t.size)
	for _, l := range t.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Lines returns a copy of the retained lines.
func (t *Tail) Lines() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.lines...)
}

// Size returns the retained size in bytes.
func (t *Tail) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Total returns how many lines have ever been appended.
func (t *Tail) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Truncated reports whether any line has been discarded.
func (t *Tail) Truncated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.discarded > 0
}

// Closed reports whether OnClosed has been received.
func (t *Tail) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
