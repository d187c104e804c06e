//go:build linux

// Package procattr configures the interceptor subprocess so that it and any
// children it spawns can be stopped as one process group.
package procattr

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Set puts the child in its own process group. Pdeathsig makes the kernel
// send SIGTERM to the child if this process dies first.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}
}
