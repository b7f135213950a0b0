//go:build !unix

package transcoder

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
