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

// Package golden implements the Golden Installer:
// detecting a newly-staged image and materializing it into a new numbered
// image, and pruning everything but current once it has been promoted.
package golden

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/installer"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/smack"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	"github.com/sierra-embedded/sysimg-boot/pkg/sysutil"
	"github.com/twpayne/go-vfs/v5"
)

// Installer promotes a staged golden image into a new numbered image.
type Installer struct {
	Fs      vfs.FS
	Log     logger.Logger
	Paths   paths.Paths
	Mounter sysutil.Mounter
	Syncer  sysutil.Syncer
	AppInst installer.Installer
	Smack   smack.Labeler
}

// ShouldInstallGolden implements the golden-install decision rule.
func (g Installer) ShouldInstallGolden(newestIndex int) bool {
	if newestIndex == -1 {
		g.Log.Infof("no systems are installed yet")
		return true
	}

	goldenVersion, err := g.readText(g.Paths.StagingSystem(), "version")
	if err != nil || goldenVersion == "" {
		g.Log.Errorf("staged system is malformed or unreadable, ignoring it: %v", err)
		return false
	}

	builtInVersion, _ := g.readText(g.Paths.MarkerRoot, "mntLegatoVersion")

	if builtInVersion != goldenVersion {
		g.Log.Infof("staged system is new, installing it")
		return true
	}
	g.Log.Infof("staged system is old, ignoring it")
	return false
}

// InstallGolden runs the ten-step golden install procedure and returns the
// new image's index. Step 10 (marking the golden install complete) is last
// and defines success.
func (g Installer) InstallGolden(newestIndex, currentIndex int) (int, error) {
	newIndex := newestIndex + 1

	// Step 1: clear anything stale at the target index.
	newImg := g.Paths.At(paths.Numbered(newIndex))
	if err := g.Fs.RemoveAll(newImg.Dir()); err != nil && !os.IsNotExist(err) {
		g.Log.Errorf("failed to clear stale directory at index %d: %s", newIndex, err)
		return -1, err
	}

	// Step 2: demote current out of the way, if present.
	if currentIndex > -1 {
		g.Mounter.TryLazyUnmount(g.Paths.Current())
		if err := g.renameOverwriting(g.Paths.Current(), g.Paths.At(paths.Numbered(currentIndex)).Dir()); err != nil {
			g.Log.Fatalf("failed to demote current: %s", err)
			return -1, err
		}
	}

	// Step 3: build the unpack image from staging.
	if err := g.buildUnpackFromStaging(newIndex); err != nil {
		g.Log.Errorf("fatal: failed to build unpack image from staging: %s", err)
		return -1, err
	}

	// Step 4: copy forward the previous image's config tree.
	if newestIndex != -1 {
		src := g.Paths.At(paths.Numbered(newestIndex)).Path("config")
		dst := g.Paths.At(paths.Unpack()).Path("config")
		if err := copyConfigTree(g.Fs, src, dst); err != nil {
			g.Log.Warnf("failed to copy forward config tree from image %d: %s", newestIndex, err)
		}
	}

	// Step 5: install apps referenced by the staged system.
	if err := g.installGoldenApps(newestIndex); err != nil {
		g.Log.Warnf("one or more apps failed to install: %s", err)
	}

	// Step 6: promote the unpack image to current.
	if err := g.renameOverwriting(g.Paths.At(paths.Unpack()).Dir(), g.Paths.Current()); err != nil {
		g.Log.Fatalf("failed to promote unpack image to current: %s", err)
		return -1, err
	}

	// Step 7: prune everything but current.
	if err := DeleteAllButCurrent(g.Fs, g.Log, g.Mounter, g.Paths); err != nil {
		g.Log.Warnf("failed to fully prune non-current images: %s", err)
	}

	// Step 8: request an ldconfig rebuild.
	RequestLdconfigRebuild(g.Fs, g.Log, g.Paths)

	// Step 9: flush to disk.
	g.Syncer.Sync()

	// Step 10, last: mark the golden install complete.
	if err := g.markGoldenInstallComplete(); err != nil {
		g.Log.Errorf("failed to mark golden install complete, will retry next boot: %s", err)
	}

	return newIndex, nil
}

func (g Installer) markGoldenInstallComplete() error {
	data, err := g.Fs.ReadFile(filepath.Join(g.Paths.StagingSystem(), "version"))
	if err != nil {
		return err
	}
	return g.Fs.WriteFile(g.Paths.LastInstalledGoldenVersion(), data, 0640)
}

func (g Installer) readText(dir, name string) (string, error) {
	data, err := g.Fs.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// renameOverwriting renames from to to; if that rename fails (e.g. to is a
// non-empty directory), it removes to and retries the rename once,
// matching the original's Rename (ENOTEMPTY/EISDIR retry-after-delete
// behavior).
func (g Installer) renameOverwriting(from, to string) error {
	if err := g.Fs.Rename(from, to); err != nil {
		if err2 := g.Fs.RemoveAll(to); err2 != nil {
			return err
		}
		return g.Fs.Rename(from, to)
	}
	return nil
}

func (g Installer) buildUnpackFromStaging(newIndex int) error {
	unpack := g.Paths.At(paths.Unpack())
	for _, d := range []string{"config", "apps", "appsWriteable"} {
		if err := vfs.MkdirAll(g.Fs, unpack.Path(d), constants.DefaultPermDir); err != nil {
			return err
		}
	}

	staging := g.Paths.StagingSystem()
	links := map[string]string{
		"bin":                filepath.Join(staging, "bin"),
		"lib":                filepath.Join(staging, "lib"),
		"modules":            filepath.Join(staging, "modules"),
		"config/apps.cfg":    filepath.Join(staging, "config", "apps.cfg"),
		"config/users.cfg":   filepath.Join(staging, "config", "users.cfg"),
		"config/modules.cfg": filepath.Join(staging, "config", "modules.cfg"),
	}
	for rel, target := range links {
		if err := g.Fs.Symlink(target, unpack.Path(rel)); err != nil {
			return err
		}
	}

	for _, f := range []string{"version", "info.properties"} {
		data, err := g.Fs.ReadFile(filepath.Join(staging, f))
		if err != nil {
			return err
		}
		if err := g.Fs.WriteFile(unpack.Path(f), data, 0640); err != nil {
			return err
		}
	}

	if err := status.WriteIndex(g.Fs, unpack, newIndex); err != nil {
		return err
	}
	return status.WriteStatus(g.Fs, unpack, "good")
}

func (g Installer) installGoldenApps(previousIndex int) error {
	if err := vfs.MkdirAll(g.Fs, g.Paths.AppsRoot, constants.DefaultPermDir); err != nil {
		return err
	}

	stagingApps := filepath.Join(g.Paths.StagingSystem(), "apps")
	entries, err := g.Fs.ReadDir(stagingApps)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs *multierror.Error
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if err := g.setUpApp(name, previousIndex); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (g Installer) setUpApp(appName string, previousIndex int) error {
	symlinkPath := filepath.Join(g.Paths.StagingSystem(), "apps", appName)
	hash, err := g.AppInst.GetAppHashFromSymlink(symlinkPath)
	if err != nil {
		return err
	}

	unpackAppPath := g.Paths.At(paths.Unpack()).Path("apps", appName)
	installedAppPath := filepath.Join(g.Paths.AppsRoot, hash)
	if err := g.Fs.Symlink(installedAppPath, unpackAppPath); err != nil {
		return err
	}

	if _, err := g.Fs.Stat(installedAppPath); err != nil {
		stagedAppPath := filepath.Join(g.Paths.StagingRoot, "apps", hash)
		if err := g.Fs.Symlink(stagedAppPath, installedAppPath); err != nil {
			return err
		}
	}

	if previousIndex == -1 {
		label := g.Smack.GetAppLabel(appName)
		g.AppInst.ImportLegacyWriteableFiles(g.Paths.LegacyFirmwareDir, "unpack", hash, appName, label)
		return nil
	}
	fromImage := paths.Numbered(previousIndex).String()
	return g.AppInst.InstallAppWriteableFiles("unpack", hash, appName, fromImage)
}

// DeleteAllButCurrent removes every image directory other than current
// (and the legacy firmware tree, if present), lazy-unmounting each before
// deletion. Failures on individual directories are aggregated, not fatal.
func DeleteAllButCurrent(fs vfs.FS, log logger.Logger, mounter sysutil.Mounter, p paths.Paths) error {
	if fi, err := fs.Stat(p.LegacyFirmwareDir); err == nil && fi.IsDir() {
		if err := fs.RemoveAll(p.LegacyFirmwareDir); err != nil {
			log.Warnf("failed to remove legacy firmware tree: %s", err)
		}
	}

	entries, err := fs.ReadDir(p.ImagesRoot)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || name == constants.CurrentName {
			continue
		}
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(p.ImagesRoot, name)
		mounter.TryLazyUnmount(path)
		if err := fs.RemoveAll(path); err != nil {
			log.Errorf("failed to delete non-current image %q: %s", name, err)
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// RequestLdconfigRebuild marks that the dynamic linker cache needs
// rebuilding before the next Supervisor start. Best-effort: a failure here
// is logged and tolerated.
func RequestLdconfigRebuild(fs vfs.FS, log logger.Logger, p paths.Paths) {
	if err := fs.WriteFile(p.NeedsLdconfigMarker(), []byte("need_ldconfig"), 0640); err != nil {
		log.Warnf("failed to write ldconfig-needed marker: %s", err)
	}
}

// UpdateLdconfigCache regenerates the dynamic linker cache for the current
// image's lib directory, clearing the marker on success. It overwrites /etc/ld.so.conf wholesale
// rather than merging it with any existing contents; this matches the
// original's destructive default rather than attempting a safer merge.
func UpdateLdconfigCache(fs vfs.FS, log logger.Logger, r interface {
	Run(string, ...string) ([]byte, error)
}, p paths.Paths) {
	if err := fs.WriteFile(p.NeedsLdconfigMarker(), []byte("start_ldconfig"), 0640); err != nil {
		log.Warnf("failed to update ldconfig marker: %s", err)
	}
	line := filepath.Join(p.ImagesRoot, "current", "lib") + "\n"
	if err := fs.WriteFile("/etc/ld.so.conf", []byte(line), 0644); err != nil {
		log.Errorf("failed to write /etc/ld.so.conf: %s", err)
		return
	}
	if _, err := r.Run("ldconfig"); err != nil {
		log.Errorf("ldconfig failed: %s", err)
		return
	}
	if err := fs.Remove(p.NeedsLdconfigMarker()); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to clear ldconfig marker: %s", err)
	}
}

// copyConfigTree recursively copies a previous image's config tree into a
// new one. Missing source is not an error.
func copyConfigTree(fs vfs.FS, src, dst string) error {
	if _, err := fs.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return vfs.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return vfs.MkdirAll(fs, target, info.Mode().Perm()|0700)
		}
		data, err := fs.ReadFile(path)
		if err != nil {
			return err
		}
		return fs.WriteFile(target, data, info.Mode().Perm())
	})
}
