//go:build unix && !linux

package sandbox

import "syscall"

// sysProcAttr configures non-Linux Unix children with a fresh process group.
// There is no parent-death signal on these platforms, and nothing kills the
// group when a Child is dropped; the group is signaled only by Child.Kill.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
