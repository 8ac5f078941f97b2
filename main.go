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

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot"
	"github.com/sierra-embedded/sysimg-boot/pkg/config"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	"github.com/urfave/cli/v2"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var debugFlag = &cli.BoolFlag{
	Name:    "debug",
	Usage:   "enable debug logging",
	EnvVars: []string{"SYSIMG_BOOT_DEBUG"},
}

var noDaemonizeFlag = &cli.BoolFlag{
	Name:  "no-daemonize",
	Usage: "stay in the foreground instead of re-execing as a detached daemon",
}

var cmds = []*cli.Command{
	{
		Name:  "run",
		Usage: "run the boot outer loop: install a staged golden image if due, select the current image, launch its supervisor",
		Flags: []cli.Flag{noDaemonizeFlag},
		Before: func(c *cli.Context) error {
			return checkRoot()
		},
		Action: func(c *cli.Context) error {
			cfg := config.NewConfig()
			app := sysboot.New(cfg)
			if c.Bool("no-daemonize") {
				app.Daemonizer = noopDaemonizer{}
			}
			return app.Run()
		},
	},
	{
		Name:  "status",
		Usage: "print the status and index of the current image",
		Action: func(c *cli.Context) error {
			cfg := config.NewConfig()
			current := cfg.Paths.At(paths.Current())
			s := status.ReadStatus(cfg.Fs, cfg.Logger, current, cfg.MaxTries)
			idx := status.ReadIndex(cfg.Fs, current)
			fmt.Printf("index=%d status=%s", idx, s.Kind)
			if s.Kind == status.Tryable {
				fmt.Printf(" tries=%d", s.Tries)
			}
			fmt.Println()
			return nil
		},
	},
	{
		Name:  "mark-good",
		Usage: "mark the current image as good, clearing its try count",
		Before: func(c *cli.Context) error {
			return checkRoot()
		},
		Action: func(c *cli.Context) error {
			cfg := config.NewConfig()
			current := cfg.Paths.At(paths.Current())
			return status.WriteStatus(cfg.Fs, current, "good")
		},
	},
	{
		Name:  "mark-bad",
		Usage: "mark the current image as bad, so the next boot falls back to another image",
		Before: func(c *cli.Context) error {
			return checkRoot()
		},
		Action: func(c *cli.Context) error {
			cfg := config.NewConfig()
			current := cfg.Paths.At(paths.Current())
			return status.WriteStatus(cfg.Fs, current, "bad")
		},
	},
}

// noopDaemonizer is installed by --no-daemonize: it satisfies
// daemon.Daemonizer but returns immediately, leaving the caller in the
// foreground rather than re-execing.
type noopDaemonizer struct{}

func (noopDaemonizer) Daemonize(_ time.Duration) error { return nil }

func main() {
	app := &cli.App{
		Name:    "sysimg-boot",
		Version: version,
		Usage:   "system-image bootstrapper and supervisor watchdog",
		Description: `
sysimg-boot selects which installed system image boots, installs a newly
staged golden image when one is available, and launches and watches that
image's supervisor process, falling back to an older image after
repeated boot failures.
`,
		Flags: []cli.Flag{
			debugFlag,
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				os.Setenv("SYSIMG_BOOT_DEBUG", "1")
			}
			return nil
		},
		Commands:               cmds,
		Action:                 runDefault,
		UseShortOptionHandling: true,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(constants.ExitFailure)
	}
}

// runDefault runs the "run" command when sysimg-boot is invoked with no
// subcommand, matching how the bootstrapper is exec'd from init with no
// arguments.
func runDefault(c *cli.Context) error {
	if c.Args().Len() > 0 {
		return cli.ShowAppHelp(c)
	}
	if err := checkRoot(); err != nil {
		return err
	}
	cfg := config.NewConfig()
	app := sysboot.New(cfg)
	return app.Run()
}

func checkRoot() error {
	if os.Geteuid() != 0 {
		return errors.New("this command requires root privileges")
	}
	return nil
}
