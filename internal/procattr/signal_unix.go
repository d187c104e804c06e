//go:build !windows

package procattr

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Terminate asks the whole process group of p to exit.
func Terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

// KillGroup sends SIGKILL to the whole process group of p.
func KillGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

// signalGroup signals -pid. A group that is already gone is not an error.
func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
