//go:build windows

// Package procattr configures the interceptor subprocess so that it and any
// children it spawns can be stopped together.
package procattr

import (
	"errors"
	"os"
	"os/exec"
)

// Set is a no-op on Windows; the executable is cleaned up by image name
// instead.
func Set(cmd *exec.Cmd) {}

// Terminate kills p. Windows has no SIGTERM to deliver to a console-less
// child.
func Terminate(p *os.Process) error {
	return KillGroup(p)
}

func KillGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
