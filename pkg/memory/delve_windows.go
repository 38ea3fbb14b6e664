//go:build windows

package memory

import (
	"os/exec"
	"syscall"
)

// setupProcAttr keeps dlv from opening a console window
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
