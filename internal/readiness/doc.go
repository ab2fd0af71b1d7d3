// Package readiness decides whether a launched server reached a usable state
// by scanning its output lines for success and failure markers.
//
// A Watcher is a stream.LineObserver. Attach it to the stdout tee of the
// process and call Await with the startup timeout:
//
//	w := readiness.New(readiness.DefaultConfig())
//	tee := stream.NewTee("stdout", w, consumer)
//	go tee.Run(stdout)
//
//	outcome, err := w.Await(ctx, 60*time.Second)
//	switch outcome.Kind {
//	case readiness.Ready:
//	case readiness.Failed:
//	    // outcome.Reason and w.FailureContext() describe the failure
//	case readiness.TimedOut:
//	}
//
// Failure markers are checked before the success marker on every line, so a
// line carrying both is a failure. Once a failure marker matched, the rest of
// that line and every following line are collected as failure context up to
// a byte cap. The watcher also keeps a bounded tail of all output for
// diagnostics, whatever the outcome.
package readiness
