//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProcess starts cadenced in its own session so it outlives
// the terminal that launched it
func configureDaemonProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
