//go:build !windows

package pyharbor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// kernelSupported reports whether the resident interpreter kernel can run on
// this platform. It needs inherited file descriptors for its data pipes.
const kernelSupported = true

// setSignalsForChannel configures the channel to receive SIGINT and SIGTERM.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
}

// canExecute reports whether the current process may execute path.
func canExecute(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}

// setProcessGroup places the child in its own process group so the whole
// tree can be killed on timeout.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree forcibly terminates the child and any grandchildren it
// spawned. Package managers fork helper processes, so killing only the
// direct child can leave orphans holding the environment's lock files.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if pgid, err := unix.Getpgid(cmd.Process.Pid); err == nil && pgid == cmd.Process.Pid {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}

// setExtraFiles attaches extra files to the command and returns their child
// FD numbers. On Unix extra files begin at FD 3, after stdin/stdout/stderr.
func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []string {
	cmd.ExtraFiles = extraFiles
	fds := make([]string, len(extraFiles))
	for i := range extraFiles {
		fds[i] = fmt.Sprintf("%d", i+3)
	}
	return fds
}
