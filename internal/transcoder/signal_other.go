//go:build !unix

package transcoder

import (
	"errors"
	"os"
)

// interruptGroup asks p to stop. Platforms without signals fall through to
// killGroup once the grace period elapses.
func interruptGroup(p *os.Process) error {
	if err := p.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func killGroup(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
