//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcAttr(*exec.Cmd) {}

// alive cannot check without a signal on this platform; the monitor
// goroutine's done channel is checked by the caller first.
func alive(*os.Process) bool {
	return true
}

// signalGraceful tries an interrupt. Platforms without one report that
// nothing was delivered.
func signalGraceful(p *os.Process) (bool, error) {
	if err := p.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func signalKill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
