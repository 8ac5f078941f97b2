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

package mocks

import (
	"errors"
	"time"
)

// FakeMounter is a test double for sysutil.Mounter: it records calls
// instead of touching any real mount namespace.
type FakeMounter struct {
	BindMounts     []FakeBindMount
	UnmountedPaths []string
	MountedPaths   map[string]bool
	ErrorOnMount   bool
}

type FakeBindMount struct {
	Source string
	Target string
}

func (f *FakeMounter) IsMounted(path string) (bool, error) {
	if f.MountedPaths == nil {
		return false, nil
	}
	return f.MountedPaths[path], nil
}

func (f *FakeMounter) BindMount(source, target string) error {
	f.BindMounts = append(f.BindMounts, FakeBindMount{Source: source, Target: target})
	if f.ErrorOnMount {
		return errBindMount
	}
	return nil
}

func (f *FakeMounter) TryLazyUnmount(path string) {
	f.UnmountedPaths = append(f.UnmountedPaths, path)
}

var errBindMount = errors.New("fake bind mount error")

// FakeSyncer is a test double for sysutil.Syncer.
type FakeSyncer struct {
	Calls int
}

func (f *FakeSyncer) Sync() { f.Calls++ }

// FakeRebooter is a test double for sysutil.Rebooter.
type FakeRebooter struct {
	Calls int
	Err   error
}

func (f *FakeRebooter) Reboot() error {
	f.Calls++
	return f.Err
}

// FakeConsoleDumper is a test double for sysutil.ConsoleDumper.
type FakeConsoleDumper struct {
	Calls int
}

func (f *FakeConsoleDumper) DumpLogTail() { f.Calls++ }

// FakeDaemonizer is a test double for daemon.Daemonizer: it records
// whether it was asked to daemonize without ever re-exec'ing anything.
type FakeDaemonizer struct {
	Called  bool
	Timeout time.Duration
	Err     error
}

func (f *FakeDaemonizer) Daemonize(timeout time.Duration) error {
	f.Called = true
	f.Timeout = timeout
	return f.Err
}
