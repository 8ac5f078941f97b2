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

// Package runner wraps external command execution (ldconfig, and any
// other short-lived helper process) behind a small interface so it can be
// faked in tests.
package runner

import (
	"os/exec"
	"strings"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
)

// Runner runs an external command to completion and returns its combined
// output.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
}

// RealRunner shells out via os/exec.
type RealRunner struct {
	Logger logger.Logger
}

func (r RealRunner) InitCmd(command string, args ...string) *exec.Cmd {
	return exec.Command(command, args...)
}

func (r RealRunner) RunCmd(cmd *exec.Cmd) ([]byte, error) {
	return cmd.CombinedOutput()
}

func (r RealRunner) Run(command string, args ...string) ([]byte, error) {
	r.Logger.Debugf("running cmd: %q %s", command, strings.Join(args, " "))
	return r.RunCmd(r.InitCmd(command, args...))
}
