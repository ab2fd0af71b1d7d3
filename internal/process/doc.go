// Package process owns a single child process: start, live running check,
// signal-based stop escalation and exit-code retrieval.
//
// A Handle moves through NotStarted -> Running -> Stopping -> Exited. Stop
// requests are no-ops once the process has exited. The child is placed in its
// own process group on Unix so signals reach any processes it spawned.
//
// Stdout and stderr are returned from Start as plain pipe read ends. They are
// never closed by the handle when the child exits, so a reader always sees
// every line up to EOF.
//
// Example usage:
//
//	h := process.New(process.Command{
//	    Name:   "vault",
//	    Binary: "/home/me/.embedded-vault/extracted/0.10.1/linux_amd64/vault",
//	    Args:   []string{"server", "-dev"},
//	})
//
//	stdout, stderr, err := h.Start()
//	if err != nil {
//	    return err
//	}
//	defer stdout.Close()
//	defer stderr.Close()
//
//	h.SendGracefulStop()
//	if _, err := h.WaitForExit(5 * time.Second); errors.Is(err, process.ErrWaitTimeout) {
//	    h.SendForcefulStop()
//	}
package process
