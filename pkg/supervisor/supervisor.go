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

// Package supervisor implements the Supervisor Runner:
// forking and waiting on the current image's Supervisor executable and
// translating its exit into one of Shutdown, Restart, or Reboot. Exit 3
// (restart without a try charge) is reported as Restart; the Runner
// remembers the exit code and skips the next try charge itself.
package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	"github.com/sierra-embedded/sysimg-boot/pkg/sysutil"
	"github.com/twpayne/go-vfs/v5"
)

// Outcome is what the outer loop should do after one launch() call.
type Outcome int

const (
	// Restart re-enters the outer loop: CheckAndInstall, then Launch again.
	Restart Outcome = iota
	// Shutdown means the whole bootstrapper exits with success.
	Shutdown
	// Reboot means the host must be restarted.
	Reboot
)

// Runner launches the current image's Supervisor and classifies its exit.
type Runner struct {
	Fs       vfs.FS
	Log      logger.Logger
	Paths    paths.Paths
	Syncer   sysutil.Syncer
	Rebooter sysutil.Rebooter
	Console  sysutil.ConsoleDumper
	MaxTries int

	// lastExitCode survives across outer-loop iterations. It is a field on
	// Runner rather than a package-level variable so it is threaded
	// explicitly by whoever owns the Runner value, not hidden behind
	// process-global state.
	lastExitCode int
}

// NewRunner builds a Runner with lastExitCode seeded to "generic failure",
// so the first boot of a fresh tryable image is always charged a try.
func NewRunner(fs vfs.FS, log logger.Logger, p paths.Paths, syncer sysutil.Syncer, rebooter sysutil.Rebooter, console sysutil.ConsoleDumper, maxTries int) *Runner {
	return &Runner{
		Fs: fs, Log: log, Paths: p, Syncer: syncer, Rebooter: rebooter, Console: console, MaxTries: maxTries,
		lastExitCode: constants.ExitFailure,
	}
}

// Launch runs one iteration of the launch loop. It is fatal
// (process-terminating via Log.Fatalf) if current's status is neither
// Good nor Tryable, since the Selector should have already prevented
// that from ever reaching the Runner.
func (r *Runner) Launch() Outcome {
	current := r.Paths.At(paths.Current())
	s := status.ReadStatus(r.Fs, r.Log, current, r.MaxTries)

	switch s.Kind {
	case status.Tryable:
		if r.lastExitCode != constants.ExitRestartNoTry || s.Tries == 0 {
			if err := status.WriteTried(r.Fs, current, s.Tries+1); err != nil {
				r.Log.Fatalf("failed to write try-count for current image: %s", err)
			}
		}
	case status.Good:
		// no try charge
	default:
		r.Log.Fatalf("current image is bad")
	}

	exitCode, err := r.run(current)
	if err != nil {
		r.Log.Fatalf("failed to run current image's supervisor: %s", err)
	}
	r.lastExitCode = exitCode

	switch exitCode {
	case constants.ExitSuccess:
		r.Log.Infof("supervisor exited 0, shutting down")
		return Shutdown
	case constants.ExitRestartTry:
		r.Log.Infof("supervisor exited 2, restarting (try charged)")
		return Restart
	case constants.ExitRestartNoTry:
		r.Log.Infof("supervisor exited 3, restarting (no try charged)")
		return Restart
	case constants.ExitFailure:
		r.Syncer.Sync()
		r.Console.DumpLogTail()
		if err := r.Rebooter.Reboot(); err != nil {
			r.Log.Fatalf("failed to reboot: %s", err)
		}
		return Reboot
	default:
		r.Log.Criticalf("unexpected supervisor exit code %d, restarting", exitCode)
		return Restart
	}
}

// run forks and execs the Supervisor binary, waits for it, and classifies
// its exit. A signal death is treated as ExitFailure (the reboot path).
func (r *Runner) run(current paths.Image) (int, error) {
	bin := filepath.Join(current.Dir(), constants.SupervisorBinRelPath)
	cmd := exec.Command(bin, constants.SupervisorNoDaemonizeArg)
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer devNull.Close()
	cmd.Stdin = devNull
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = cmd.Run()
	if err == nil {
		return constants.ExitSuccess, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			r.Log.Criticalf("supervisor was killed by signal %v", ws.Signal())
			return constants.ExitFailure, nil
		}
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
