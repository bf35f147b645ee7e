//go:build linux

package executor

import (
	"os/exec"
	"syscall"
)

// setProcAttrs puts the child in its own process group so a timeout can kill
// everything it spawned. Pdeathsig is tied to the OS thread that forked the
// child rather than to the server process, so it is only a backstop; the
// group kill after each step is what reaps leftovers.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
