//go:build !linux

package sandbox

// execCgroup is Linux-only; elsewhere the acquisition is a no-op and the
// child runs without a memory cap.
type execCgroup struct{}

func attachExecCgroup(pid int, memoryMaxBytes int64) *execCgroup { return nil }

func (c *execCgroup) oomKilled() (bool, bool)        { return false, false }
func (c *execCgroup) memoryMaxBytes() (uint64, bool) { return 0, false }
func (c *execCgroup) cleanup()                       {}
