//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in a new process group so stop signals
// reach everything it spawned.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// alive checks the process with signal 0.
func alive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}

// signalGraceful sends SIGTERM to the process group.
// Use negative PID to signal the process group (created via Setpgid).
func signalGraceful(p *os.Process) (bool, error) {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// signalKill sends SIGKILL to the process group. A group that is already
// gone is not an error.
func signalKill(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
