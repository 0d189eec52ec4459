//go:build linux

package agentproc

import "syscall"

// groupAttr gives the agent its own process group, and has the kernel
// SIGTERM it should the bridge die without calling Stop.
func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}
}
