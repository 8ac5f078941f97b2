/*
Copyright © 2022 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package daemon backgrounds the bootstrapper once, early in main, so init
// scripts that launched it can continue. The original daemon_Daemonize(5000)
// is a fork() where the parent waits up to a timeout for the child to
// signal readiness, then exits; Go cannot safely fork a multi-threaded
// runtime, so the equivalent here re-execs the same binary with a marker
// environment variable, detaches the child into its own session, and has
// the child close an inherited pipe once it is ready to run.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// readyEnvVar marks a re-exec'd process as the already-detached child, so
// it does not re-daemonize itself.
const readyEnvVar = "SYSIMG_BOOT_DAEMON_CHILD"

// readyFD is the file descriptor number the child inherits to signal
// readiness: it closes its end once set up, and the parent's read on its
// end returns EOF.
const readyFD = 3

// Daemonizer backgrounds the current process exactly once.
type Daemonizer interface {
	// Daemonize re-execs and detaches if this process is not already the
	// detached child, blocking the original invocation for at most
	// timeout waiting for the child's readiness signal before exiting 0.
	// If this process IS the detached child, it returns immediately so
	// the caller can proceed with real work.
	Daemonize(timeout time.Duration) error
}

// Real is the production Daemonizer.
type Real struct{}

// Daemonize implements Daemonizer.
func (Real) Daemonize(timeout time.Duration) error {
	if os.Getenv(readyEnvVar) == "1" {
		// We are the detached child. Signal readiness by closing the
		// inherited pipe write end, then carry on.
		if f := os.NewFile(uintptr(readyFD), "ready-pipe"); f != nil {
			_ = f.Close()
		}
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: cannot resolve own executable path: %w", err)
	}

	readR, readW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("daemon: cannot create readiness pipe: %w", err)
	}

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), readyEnvVar+"=1")
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{readW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		readR.Close()
		readW.Close()
		return fmt.Errorf("daemon: failed to start detached child: %w", err)
	}
	// The parent's copy of the write end must be closed so that the
	// read below observes EOF once the child closes its own copy.
	readW.Close()

	waitForReady(readR, timeout)
	readR.Close()

	os.Exit(0)
	return nil // unreachable
}

func waitForReady(r *os.File, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		_, _ = r.Read(buf)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Setsid is exposed for callers that want to detach the current process's
// session without a full re-exec (used by tests). It is a thin wrapper
// around unix.Setsid.
func Setsid() (int, error) { return unix.Setsid() }
