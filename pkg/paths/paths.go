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

// Package paths gives the filesystem layout strongly-typed
// names: an ImageName is either the literal "current" or a non-negative
// integer rendered as decimal, and an Image bundles an ImageName with
// the Paths it was resolved against so its on-disk location is never
// re-derived by string concatenation at the call site.
package paths

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Paths is the set of well-known directories the bootstrapper reads and
// writes. All of it is overridable (see pkg/config) so a
// test or an alternate deployment never touches "/legato"-style hardcoded
// absolute paths.
type Paths struct {
	// ImagesRoot is the parent of all numbered image directories and of
	// "current"/"unpack".
	ImagesRoot string
	// AppsRoot is the content-addressed app payload store.
	AppsRoot string
	// StagingRoot is the read-only tree published by the upstream updater.
	StagingRoot string
	// MarkerRoot holds the last-installed-golden-version marker.
	MarkerRoot string
	// LegacyFirmwareDir is the pre-image-based install location that may
	// still hold per-app writable files on a device upgrading for the
	// first time.
	LegacyFirmwareDir string
}

// UnpackImage is the scratch directory used to build a new image before
// it is renamed to Current.
func (p Paths) UnpackImage() string { return filepath.Join(p.ImagesRoot, "unpack") }

// UnpackApps is the scratch directory used while installing apps.
func (p Paths) UnpackApps() string { return filepath.Join(p.AppsRoot, "unpack") }

// Current is the path to the active image.
func (p Paths) Current() string { return filepath.Join(p.ImagesRoot, "current") }

// NeedsLdconfigMarker is the marker file requesting a dynamic-linker
// cache rebuild before the next Supervisor start.
func (p Paths) NeedsLdconfigMarker() string { return filepath.Join(p.ImagesRoot, "needs_ldconfig") }

// LastInstalledGoldenVersion is the marker recording the staging version
// last promoted by the Golden Installer.
func (p Paths) LastInstalledGoldenVersion() string { return filepath.Join(p.MarkerRoot, "mntLegatoVersion") }

// StagingSystem is the published golden image root.
func (p Paths) StagingSystem() string { return filepath.Join(p.StagingRoot, "system") }

// ImageName identifies one image directory: either the literal "current"
// or a non-negative integer index rendered as decimal. It is immutable
// and self-validating so the invariant that every numbered directory's
// name equals the integer in its index file is structural rather than
// inspectional.
type ImageName struct {
	current bool
	index   int
}

// Current is the ImageName for the active image.
func Current() ImageName { return ImageName{current: true} }

// Numbered is the ImageName for a numbered (inactive, or not-yet-promoted)
// image. index must be >= 0.
func Numbered(index int) ImageName {
	if index < 0 {
		panic(fmt.Sprintf("paths: negative image index %d", index))
	}
	return ImageName{index: index}
}

// Unpack is the scratch-area pseudo image-name used while building a new
// image; it shares the "dir name" shape of ImageName but is never a
// promotion target itself.
func Unpack() ImageName { return ImageName{index: -1} }

func (n ImageName) String() string {
	if n.current {
		return "current"
	}
	if n.index < 0 {
		return "unpack"
	}
	return strconv.Itoa(n.index)
}

// IsCurrent reports whether this name is the literal "current".
func (n ImageName) IsCurrent() bool { return n.current }

// Index returns the numeric index and true, or (0, false) for "current"
// or "unpack".
func (n ImageName) Index() (int, bool) {
	if n.current || n.index < 0 {
		return 0, false
	}
	return n.index, true
}

// Image is a fully-qualified image directory: a name resolved against a
// Paths root.
type Image struct {
	Name ImageName
	root Paths
}

// At constructs the Image for name under p.
func (p Paths) At(name ImageName) Image {
	return Image{Name: name, root: p}
}

// Dir is the image's directory.
func (i Image) Dir() string {
	if i.Name.index < 0 && !i.Name.current {
		return i.root.UnpackImage()
	}
	return filepath.Join(i.root.ImagesRoot, i.Name.String())
}

// Path joins elem onto the image's directory.
func (i Image) Path(elem ...string) string {
	return filepath.Join(append([]string{i.Dir()}, elem...)...)
}

// IndexFile is the image's "index" file.
func (i Image) IndexFile() string { return i.Path("index") }

// StatusFile is the image's "status" file.
func (i Image) StatusFile() string { return i.Path("status") }
