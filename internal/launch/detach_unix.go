//go:build !windows

package launch

import (
	"os/exec"
	"syscall"
)

// detachProcess puts the browser in its own session so it survives our exit.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
