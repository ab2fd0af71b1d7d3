package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// blocker holds every OnLine until release is closed.
type blocker struct {
	release chan struct{}
	rec     recorder
}

func (b *blocker) OnLine(line string) {
	<-b.release
	b.rec.OnLine(line)
}

func (b *blocker) OnClosed() { b.rec.OnClosed() }

func TestIsolate_UnresponsiveObserverDoesNotBlockReader(t *testing.T) {
	slow := &blocker{release: make(chan struct{})}
	fast := &recorder{}
	queued := Isolate(slow, 4)
	tee := NewTee("stdout", queued, fast)

	var input strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&input, "line %d\n", i)
	}

	done := make(chan error, 1)
	go func() { done <- tee.Run(strings.NewReader(input.String())) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tee blocked behind unresponsive observer")
	}

	lines, closes := fast.snapshot()
	assert.Len(t, lines, 100)
	assert.Equal(t, 1, closes)

	close(slow.release)
	select {
	case <-queued.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("queued observer did not drain")
	}

	got, slowCloses := slow.rec.snapshot()
	assert.Equal(t, 1, slowCloses)
	assert.Equal(t, int64(100), int64(len(got))+queued.Dropped())
	assert.Equal(t, "line 99", got[len(got)-1])
}

func TestIsolate_DeliversEverythingWhenNotFull(t *testing.T) {
	r := &recorder{}
	queued := Isolate(r, 0)

	for i := 0; i < 10; i++ {
		queued.OnLine(fmt.Sprintf("%d", i))
	}
	queued.OnClosed()
	queued.OnClosed()

	<-queued.Done()
	lines, closes := r.snapshot()
	assert.Len(t, lines, 10)
	assert.Equal(t, 1, closes)
	assert.Zero(t, queued.Dropped())

	queued.OnLine("late")
	lines, _ = r.snapshot()
	assert.Len(t, lines, 10)
}

func TestIsolate_SyncWaitsForAcceptedLines(t *testing.T) {
	slow := &blocker{release: make(chan struct{})}
	queued := Isolate(slow, 0)

	queued.OnLine("banner")
	queued.OnLine("ready")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queued.Sync(ctx), context.DeadlineExceeded, "observer is still blocked")

	close(slow.release)
	require.NoError(t, queued.Sync(context.Background()))
	lines, _ := slow.rec.snapshot()
	assert.Equal(t, []string{"banner", "ready"}, lines)

	queued.OnClosed()
	<-queued.Done()
	require.NoError(t, queued.Sync(context.Background()))
}

func TestIsolate_SyncIgnoresLaterLines(t *testing.T) {
	gate := make(chan struct{})
	r := &recorder{}
	queued := Isolate(ObserverFunc(func(line string) {
		if line == "after" {
			<-gate
		}
		r.OnLine(line)
	}), 0)
	defer close(gate)

	queued.OnLine("before")
	require.NoError(t, queued.Sync(context.Background()))

	queued.OnLine("after")
	lines, _ := r.snapshot()
	assert.Equal(t, []string{"before"}, lines)
}

func TestIsolate_SyncCountsDroppedLines(t *testing.T) {
	slow := &blocker{release: make(chan struct{})}
	queued := Isolate(slow, 2)

	for i := 0; i < 10; i++ {
		queued.OnLine(fmt.Sprintf("line %d", i))
	}

	done := make(chan error, 1)
	go func() { done <- queued.Sync(context.Background()) }()
	close(slow.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Sync did not return after the observer caught up")
	}
	lines, _ := slow.rec.snapshot()
	assert.Equal(t, "line 9", lines[len(lines)-1])
	assert.Positive(t, queued.Dropped())
}

// panicCounter counts Warn calls.
type panicCounter struct {
	noopLogger
	mu    sync.Mutex
	warns int
}

func (p *panicCounter) Warn(string, ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warns++
}

func (p *panicCounter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warns
}

func TestIsolate_PanicsAreLoggedAndCounted(t *testing.T) {
	logger := &panicCounter{}
	queued := Isolate(panicker{}, 0)
	queued.SetLogger(logger)

	queued.OnLine("one")
	queued.OnLine("two")
	queued.OnClosed()

	select {
	case <-queued.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("queued observer stopped after a panic")
	}
	assert.Equal(t, int64(3), queued.Panics())
	assert.Equal(t, 3, logger.count())
}

func TestTail_KeepsMostRecentWithinLimit(t *testing.T) {
	tail := NewTail(12)
	tail.OnLine("aaaa")
	tail.OnLine("bbbb")
	tail.OnLine("cccc")

	assert.Equal(t, "bbbb\ncccc\n", tail.String())
	assert.True(t, tail.Truncated())
	assert.Equal(t, int64(3), tail.Total())
	assert.Equal(t, 10, tail.Size())
}

func TestTail_OversizedLineKeepsSuffix(t *testing.T) {
	tail := NewTail(5)
	tail.Append("0123456789")
	assert.Equal(t, "6789\n", tail.String())
}

func TestTail_OversizedLineCutOnRuneBoundary(t *testing.T) {
	tail := NewTail(4)
	tail.Append("€x") // the kept suffix would start inside €
	assert.Equal(t, "x\n", tail.String())
	assert.True(t, utf8.ValidString(tail.String()))
}

func TestTail_Empty(t *testing.T) {
	tail := NewTail(0)
	assert.Equal(t, "", tail.String())
	assert.False(t, tail.Truncated())
	tail.OnClosed()
	assert.True(t, tail.Closed())
}

func TestTail_PropertyNeverExceedsBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 256).Draw(t, "limit")
		lines := rapid.SliceOf(rapid.StringN(0, 80, -1)).Draw(t, "lines")

		tail := NewTail(limit)
		for _, l := range lines {
			tail.Append(l)
		}
		if tail.Size() > limit {
			t.Fatalf("size %d exceeds limit %d", tail.Size(), limit)
		}
		if len(tail.String()) != tail.Size() {
			t.Fatalf("String() length %d != Size() %d", len(tail.String()), tail.Size())
		}
		if len(lines) > 0 {
			kept := tail.Lines()
			last := lines[len(lines)-1]
			if len(last)+1 <= limit && kept[len(kept)-1] != last {
				t.Fatalf("last line %q not retained", last)
			}
		}
	})
}
