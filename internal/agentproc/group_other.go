//go:build !linux

package agentproc

import "syscall"

// groupAttr gives the agent its own process group.
func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
