package transcoder

import "syscall"

// sysProcAttr puts ffmpeg in its own process group so the whole tree can be
// signalled at once. Pdeathsig makes the kernel terminate the child if the
// gateway dies without cleaning up.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
