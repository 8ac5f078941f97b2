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

// Package sysutil wraps the handful of direct syscalls and host-level
// operations the core needs (sync, reboot, bind-mount, lazy unmount,
// console log dump) behind small interfaces so tests can fake them.
package sysutil

import (
	"os/exec"

	mount "k8s.io/mount-utils"

	"golang.org/x/sys/unix"
)

// Syncer flushes pending filesystem writes.
type Syncer interface {
	Sync()
}

// Rebooter restarts the host. Failure here is always
// fatal to the caller.
type Rebooter interface {
	Reboot() error
}

// Mounter is the subset of mount operations the core needs: bind-mounting
// writable overlays at startup, and a best-effort lazy unmount before any
// rename or recursive delete of a possibly-still-mounted image directory
// (see the writable-overlay setup).
type Mounter interface {
	IsMounted(path string) (bool, error)
	BindMount(source, target string) error
	TryLazyUnmount(path string)
}

// ConsoleDumper copies recent system log output to the console ahead of a
// reboot, mirroring the original's "logread | tail -n 40 > /dev/console".
type ConsoleDumper interface {
	DumpLogTail()
}

// consoleDumpCommand is run through a shell since it is itself a pipeline
// with redirection, exactly as passed to system() in the original.
const consoleDumpCommand = "logread | tail -n 40 > /dev/console"

// Real is the production Syncer/Rebooter/Mounter/ConsoleDumper, backed by
// golang.org/x/sys/unix and k8s.io/mount-utils.
type Real struct {
	Interface mount.Interface
}

func NewReal(mountBinary string) Real {
	return Real{Interface: mount.New(mountBinary)}
}

func (Real) Sync() { unix.Sync() }

func (Real) Reboot() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

func (r Real) IsMounted(path string) (bool, error) {
	notMnt, err := r.Interface.IsLikelyNotMountPoint(path)
	if err != nil {
		return false, err
	}
	return !notMnt, nil
}

func (r Real) BindMount(source, target string) error {
	return r.Interface.Mount(source, target, "", []string{"bind"})
}

// TryLazyUnmount issues a best-effort lazy (detach) unmount; any error is
// ignored; lazy unmounts are always best-effort. k8s.io/mount-utils'
// Interface has no lazy-unmount method of its own, so this reaches past it
// to unix.Unmount directly with MNT_DETACH rather than inventing one on
// the mount.Interface type.
func (r Real) TryLazyUnmount(path string) {
	_ = unix.Unmount(path, unix.MNT_DETACH)
}

// DumpLogTail shells out to logread and redirects its tail to /dev/console.
// Best-effort: a missing logread or console device only loses diagnostic
// output, it never blocks the reboot that follows.
func (Real) DumpLogTail() {
	_ = exec.Command("sh", "-c", consoleDumpCommand).Run()
}
