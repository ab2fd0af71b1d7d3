// Package stream fans line-oriented process output out to multiple observers.
//
// A Tee owns one source stream (typically a child's stdout or stderr pipe)
// and delivers every line, in order, to a fixed list of LineObservers.
// Observers are called in registration order on the reader goroutine.
// A panicking observer is logged and skipped for that line; it never stops
// delivery to the remaining observers or terminates the read loop.
//
// OnClosed is delivered to every observer exactly once, after the last
// line, whether the source ended with EOF or with a read error.
//
// Observers that may block (network sinks, slow test consumers) should be
// wrapped with Isolate, which gives them a bounded queue with
// drop-oldest semantics so the reader never stalls behind them.
// QueuedObserver.Sync waits, under a context, for such an observer to
// catch up with the lines already accepted.
//
// Example usage:
//
//	tail := stream.NewTail(64 * 1024)
//	tee := stream.NewTee("stdout", watcher, tail, stream.ObserverFunc(func(line string) {
//	    fmt.Println(line)
//	}))
//	go tee.Run(stdout)
package stream
