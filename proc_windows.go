//go:build windows

package pyharbor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
)

// kernelSupported reports whether the resident interpreter kernel can run on
// this platform. os/exec rejects ExtraFiles at Start on Windows, so the
// kernel's inherited-descriptor pipes cannot be established here.
const kernelSupported = false

// setSignalsForChannel configures the channel to receive interrupt signals.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt)
}

// canExecute reports whether path looks executable. Windows has no exec bit;
// executability is an extension convention.
func canExecute(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".com":
		return true
	}
	return false
}

// setProcessGroup is a no-op on Windows; termination kills the direct child.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessTree forcibly terminates the child process.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// setExtraFiles attaches extra files to the command and returns their child
// FD numbers, mirroring the Unix layout.
func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []string {
	cmd.ExtraFiles = extraFiles
	fds := make([]string, len(extraFiles))
	for i := range extraFiles {
		fds[i] = fmt.Sprintf("%d", i+3)
	}
	return fds
}
