//go:build !linux && !windows

// Package procattr configures the interceptor subprocess so that it and any
// children it spawns can be stopped as one process group.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set puts the child in its own process group.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
