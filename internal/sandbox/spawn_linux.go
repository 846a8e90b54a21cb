//go:build linux

package sandbox

import "syscall"

// sysProcAttr configures Linux children: a fresh process group so the whole
// tree can be signaled at once, and SIGTERM on parent death so a crashed
// worker never leaves orphans.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
