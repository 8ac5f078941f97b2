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

// Package selector implements the Selector: one
// CheckAndInstall pass per outer-loop iteration, deciding whether to run a
// golden install, promoting whichever image should become current, and
// triggering a pending ldconfig rebuild.
package selector

import (
	"os"
	"path/filepath"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/golden"
	"github.com/sierra-embedded/sysimg-boot/pkg/inventory"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/runner"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	"github.com/sierra-embedded/sysimg-boot/pkg/sysutil"
	"github.com/twpayne/go-vfs/v5"
)

// Selector runs CheckAndInstall.
type Selector struct {
	Fs       vfs.FS
	Log      logger.Logger
	Paths    paths.Paths
	Mounter  sysutil.Mounter
	Runner   runner.Runner
	Golden   golden.Installer
	MaxTries int
}

// CheckAndInstall runs once per outer-loop iteration and returns the index
// that is current once it completes.
func (s Selector) CheckAndInstall() (currentIndex int, err error) {
	// Step 1: clean up any prior aborted run.
	if err := s.Fs.RemoveAll(s.Paths.UnpackImage()); err != nil && !os.IsNotExist(err) {
		s.Log.Warnf("failed to delete stale unpack image: %s", err)
	}
	if err := s.Fs.RemoveAll(s.Paths.UnpackApps()); err != nil && !os.IsNotExist(err) {
		s.Log.Warnf("failed to delete stale unpack apps: %s", err)
	}

	// Step 2: compute newest and current.
	newestIndex := inventory.NewestUsableIndex(s.Fs, s.Log, s.Paths, s.MaxTries)
	currentIndex = inventory.CurrentIndex(s.Fs, s.Paths)

	// Step 3: golden install, if warranted.
	if s.Golden.ShouldInstallGolden(newestIndex) {
		newIndex, err := s.Golden.InstallGolden(newestIndex, currentIndex)
		if err != nil {
			return -1, err
		}
		return newIndex, nil
	}

	// Step 4: promote the newest image if it differs from current.
	if newestIndex != currentIndex {
		if currentIndex != -1 {
			currentPath := s.Paths.Current()
			s.Mounter.TryLazyUnmount(currentPath)

			currentStatus := status.ReadStatus(s.Fs, s.Log, s.Paths.At(paths.Current()), s.MaxTries)

			demotedPath := s.Paths.At(paths.Numbered(currentIndex)).Dir()
			if err := s.renameOverwriting(currentPath, demotedPath); err != nil {
				s.Log.Fatalf("failed to demote current: %s", err)
				return -1, err
			}

			switch currentStatus.Kind {
			case status.Bad:
				if err := s.Fs.RemoveAll(demotedPath); err != nil {
					s.Log.Warnf("failed to delete demoted bad image %d: %s", currentIndex, err)
				}
			case status.Tryable:
				s.copyConfigForward(currentIndex, newestIndex)
				if err := s.Fs.RemoveAll(demotedPath); err != nil {
					s.Log.Warnf("failed to delete demoted tryable image %d: %s", currentIndex, err)
				}
			case status.Good:
				s.copyConfigForward(currentIndex, newestIndex)
			}
		}

		winnerPath := s.Paths.At(paths.Numbered(newestIndex)).Dir()
		if err := s.renameOverwriting(winnerPath, s.Paths.Current()); err != nil {
			s.Log.Fatalf("failed to promote image %d to current: %s", newestIndex, err)
			return -1, err
		}
		golden.RequestLdconfigRebuild(s.Fs, s.Log, s.Paths)
		currentIndex = newestIndex
	}

	// Step 5: drain a pending ldconfig rebuild.
	if _, err := s.Fs.Stat(s.Paths.NeedsLdconfigMarker()); err == nil {
		golden.UpdateLdconfigCache(s.Fs, s.Log, s.Runner, s.Paths)
	}

	return currentIndex, nil
}

func (s Selector) renameOverwriting(from, to string) error {
	if err := s.Fs.Rename(from, to); err != nil {
		if err2 := s.Fs.RemoveAll(to); err2 != nil {
			return err
		}
		return s.Fs.Rename(from, to)
	}
	return nil
}

func (s Selector) copyConfigForward(fromIndex, toIndex int) {
	src := s.Paths.At(paths.Numbered(fromIndex)).Path("config")
	dst := s.Paths.At(paths.Numbered(toIndex)).Path("config")
	if _, err := s.Fs.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return
		}
		s.Log.Warnf("failed to stat config tree of image %d: %s", fromIndex, err)
		return
	}
	if err := vfs.Walk(s.Fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return vfs.MkdirAll(s.Fs, target, info.Mode().Perm()|0700)
		}
		data, readErr := s.Fs.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		return s.Fs.WriteFile(target, data, info.Mode().Perm())
	}); err != nil {
		s.Log.Warnf("failed to copy config tree from image %d to %d: %s", fromIndex, toIndex, err)
	}
}
