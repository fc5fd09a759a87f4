//go:build windows

package launch

import "os/exec"

// detachProcess is a no-op on Windows; Start already leaves the child outside
// our console group for GUI binaries.
func detachProcess(cmd *exec.Cmd) {}
