//go:build windows

package sandbox

import (
	"fmt"
	"syscall"
)

// sysProcAttr gives Windows children their own process group so console
// control events don't propagate from the worker.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func killProcessGroup(pid int) error {
	// Best effort only; the caller falls back to killing the process itself.
	return fmt.Errorf("process-group kill not supported on windows (pid %d)", pid)
}
