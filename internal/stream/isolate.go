package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-observer queue length used by Isolate when
// capacity is not positive.
const DefaultQueueSize = 1024

// queuedLine is a line with its acceptance sequence number.
type queuedLine struct {
	seq  uint64
	line string
}

// QueuedObserver decouples a possibly slow observer from the tee's reader
// goroutine. Lines are queued up to a fixed capacity; when the queue is full
// the oldest queued line is dropped and counted.
//
// The wrapped observer is called from a dedicated goroutine, in order, and
// receives OnClosed exactly once after the queue has drained. Panics in the
// wrapped observer are logged and counted, and delivery continues.
type QueuedObserver struct {
	inner    LineObserver
	capacity int
	logger   atomic.Pointer[loggerBox]

	mu        sync.Mutex
	queue     []queuedLine
	accepted  uint64 // seq of the last line accepted by OnLine
	delivered uint64 // seq of the last line handed to inner
	batchMax  uint64 // seq of the last line of the batch in flight; 0 when idle
	closed    bool
	progress  chan struct{}

	notify  chan struct{}
	dropped atomic.Int64
	panics  atomic.Int64
	done    chan struct{}
}

// loggerBox lets the logger be swapped while the delivery goroutine runs.
type loggerBox struct{ Logger }

// Isolate wraps o with a bounded queue and starts its delivery goroutine.
func Isolate(o LineObserver, capacity int) *QueuedObserver {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	q := &QueuedObserver{
		inner:    o,
		capacity: capacity,
		queue:    make([]queuedLine, 0, capacity),
		progress: make(chan struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	q.logger.Store(&loggerBox{noopLogger{}})
	go q.loop()
	return q
}

// SetLogger sets the logger used for observer panics.
func (q *QueuedObserver) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	q.logger.Store(&loggerBox{logger})
}

// OnLine enqueues line without blocking.
func (q *QueuedObserver) OnLine(line string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.queue) >= q.capacity {
		q.queue[0] = queuedLine{}
		q.queue = q.queue[1:]
		q.dropped.Add(1)
		q.broadcastLocked()
	}
	q.accepted++
	q.queue = append(q.queue, queuedLine{seq: q.accepted, line: line})
	q.mu.Unlock()
	q.signal()
}

// OnClosed marks the queue closed; the inner observer is closed once drained.
func (q *QueuedObserver) OnClosed() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Dropped returns how many lines were discarded because the queue was full.
func (q *QueuedObserver) Dropped() int64 {
	return q.dropped.Load()
}

// Panics returns how many calls into the wrapped observer panicked.
func (q *QueuedObserver) Panics() int64 {
	return q.panics.Load()
}

// Done is closed after the inner observer has received OnClosed.
func (q *QueuedObserver) Done() <-chan struct{} {
	return q.done
}

// Sync blocks until every line accepted before the call has been delivered
// to the wrapped observer or dropped, or until ctx is done.
func (q *QueuedObserver) Sync(ctx context.Context) error {
	q.mu.Lock()
	target := q.accepted
	q.mu.Unlock()

	for {
		q.mu.Lock()
		reached := q.reachedLocked(target)
		progress := q.progress
		q.mu.Unlock()
		if reached {
			return nil
		}

		select {
		case <-progress:
		case <-q.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reachedLocked reports whether no line with seq <= target is still queued
// or in flight.
func (q *QueuedObserver) reachedLocked(target uint64) bool {
	if len(q.queue) > 0 && q.queue[0].seq <= target {
		return false
	}
	if q.batchMax == 0 {
		return true
	}
	return q.delivered >= min(target, q.batchMax)
}

// broadcastLocked wakes every Sync waiter.
func (q *QueuedObserver) broadcastLocked() {
	close(q.progress)
	q.progress = make(chan struct{})
}

func (q *QueuedObserver) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *QueuedObserver) loop() {
	defer close(q.done)
	for range q.notify {
		for {
			q.mu.Lock()
			if len(q.queue) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					q.safeClose()
					return
				}
				break
			}
			batch := q.queue
			q.queue = make([]queuedLine, 0, q.capacity)
			q.batchMax = batch[len(batch)-1].seq
			q.mu.Unlock()

			for _, ql := range batch {
				q.safeLine(ql.line)
				q.mu.Lock()
				q.delivered = ql.seq
				q.broadcastLocked()
				q.mu.Unlock()
			}

			q.mu.Lock()
			q.batchMax = 0
			q.mu.Unlock()
		}
	}
}

func (q *QueuedObserver) safeLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Load().Warn("queued observer panicked", "panic", r)
		}
	}()
	q.inner.OnLine(line)
}

func (q *QueuedObserver) safeClose() {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Load().Warn("queued observer panicked on close", "panic", r)
		}
	}()
	q.inner.OnClosed()
}
