//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// isolate puts the child in its own process group so a timeout kills
// everything it spawned, not just the group leader.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
