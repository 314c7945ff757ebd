//go:build !windows

package build

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the command in its own process group so a cancel can
// take down everything it forked, not just the direct child. Without this,
// grandchildren keep the stdout/stderr pipes open and Wait blocks long after
// the child itself is dead.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup signals the command's whole process group.
func killProcessGroup(c *exec.Cmd) error {
	return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
}
