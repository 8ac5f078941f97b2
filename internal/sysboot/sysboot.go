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

// Package sysboot wires together the Status Store, Image Inventory, Golden
// Installer, Selector and Supervisor Runner into the main() outer loop:
// bind-mount the writable overlays if the active image is not read-only,
// daemonize once, then alternate CheckAndInstall and Launch forever.
package sysboot

import (
	"time"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/daemon"
	"github.com/sierra-embedded/sysimg-boot/pkg/config"
	"github.com/sierra-embedded/sysimg-boot/pkg/golden"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/selector"
	"github.com/sierra-embedded/sysimg-boot/pkg/supervisor"
	"github.com/twpayne/go-vfs/v5"
)

// DaemonizeTimeout bounds how long the original foreground invocation waits
// for the detached child to signal readiness before giving up and exiting
// anyway, mirroring the original's daemon_Daemonize(5000).
const DaemonizeTimeout = 5 * time.Second

// App is the assembled bootstrapper, ready to Run its outer loop.
type App struct {
	Config     *config.Config
	Daemonizer daemon.Daemonizer
	Selector   selector.Selector
	Supervisor *supervisor.Runner
}

// New assembles an App from cfg, building the Selector and Supervisor
// Runner on top of cfg's collaborators.
func New(cfg *config.Config) *App {
	goldenInst := golden.Installer{
		Fs:      cfg.Fs,
		Log:     cfg.Logger,
		Paths:   cfg.Paths,
		Mounter: cfg.Mounter,
		Syncer:  cfg.Syncer,
		AppInst: cfg.Installer,
		Smack:   cfg.Smack,
	}

	return &App{
		Config:     cfg,
		Daemonizer: daemon.Real{},
		Selector: selector.Selector{
			Fs:       cfg.Fs,
			Log:      cfg.Logger,
			Paths:    cfg.Paths,
			Mounter:  cfg.Mounter,
			Runner:   cfg.Runner,
			Golden:   goldenInst,
			MaxTries: cfg.MaxTries,
		},
		Supervisor: supervisor.NewRunner(cfg.Fs, cfg.Logger, cfg.Paths, cfg.Syncer, cfg.Rebooter, cfg.Console, cfg.MaxTries),
	}
}

// isReadOnly reports whether the current image carries the "read-only"
// sentinel file: a read-only system is always ready, so
// CheckAndInstall is skipped for it entirely.
func (a *App) isReadOnly() bool {
	_, err := a.Config.Fs.Stat(a.Config.Paths.At(paths.Current()).Path("read-only"))
	return err == nil
}

// prepareOverlays bind-mounts the writable /legato and /home overlays when
// the active image is not read-only, and ensures /home/root exists,
// mirroring the original main()'s pre-loop setup.
func (a *App) prepareOverlays() {
	if a.isReadOnly() {
		return
	}

	if err := a.Config.Mounter.BindMount("/mnt/flash/legato", "/legato"); err != nil {
		a.Config.Logger.Warnf("failed to bind mount /legato: %s", err)
	}
	if err := a.Config.Mounter.BindMount("/mnt/flash/home", "/home"); err != nil {
		a.Config.Logger.Warnf("failed to bind mount /home: %s", err)
	}

	if _, err := a.Config.Fs.Stat("/home"); err == nil {
		if err := vfs.MkdirAll(a.Config.Fs, "/home/root", 0750); err != nil {
			a.Config.Logger.Warnf("failed to create /home/root: %s", err)
		}
	}
}

// Run is the outer loop: prepare overlays, daemonize once, then alternate
// CheckAndInstall and Launch until Launch reports Shutdown or Reboot.
func (a *App) Run() error {
	a.prepareOverlays()

	if err := a.Daemonizer.Daemonize(DaemonizeTimeout); err != nil {
		return err
	}

	readOnly := a.isReadOnly()

	for {
		if !readOnly {
			if _, err := a.Selector.CheckAndInstall(); err != nil {
				a.Config.Logger.Errorf("check-and-install failed: %s", err)
			}
		}

		switch a.Supervisor.Launch() {
		case supervisor.Shutdown:
			return nil
		case supervisor.Reboot:
			return nil
		case supervisor.Restart:
			continue
		}
	}
}
