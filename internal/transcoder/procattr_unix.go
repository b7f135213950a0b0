//go:build unix && !linux

package transcoder

import "syscall"

// sysProcAttr puts ffmpeg in its own process group. Pdeathsig is not
// available outside Linux.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
