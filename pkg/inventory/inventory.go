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

// Package inventory implements the Image Inventory:
// enumerating numbered image directories under a Paths root and answering
// "what is the newest usable image?".
package inventory

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	"github.com/twpayne/go-vfs/v5"
)

// NewestUsableIndex scans the numbered image directories under p (skipping
// "." entries, "current" and "unpack") and returns the largest index whose
// status classifies as Good or Tryable, or -1 if none qualify. maxTries is
// forwarded to status.ReadStatus.
func NewestUsableIndex(fs vfs.FS, log logger.Logger, p paths.Paths, maxTries int) int {
	entries, err := fs.ReadDir(p.ImagesRoot)
	if err != nil {
		log.Errorf("failed to read images root %q: %s", p.ImagesRoot, err)
		return -1
	}

	newest := -1
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if name == constants.CurrentName || name == constants.UnpackImageName {
			continue
		}
		if !isDir(fs, filepath.Join(p.ImagesRoot, name), entry) {
			continue
		}

		idxFromName, ok := parseIndexName(name)
		if !ok {
			log.Warnf("image directory %q does not have a decimal name, skipping", name)
			continue
		}
		img := p.At(paths.Numbered(idxFromName))

		idx := status.ReadIndex(fs, img)
		if idx < 0 {
			log.Warnf("image %q has no readable index, skipping", name)
			continue
		}

		s := status.ReadStatus(fs, log, img, maxTries)
		switch s.Kind {
		case status.Good, status.Tryable:
			if idx > newest {
				newest = idx
			}
		default:
			log.Warnf("image %q (index %d) is Bad or unreadable, skipping", name, idx)
		}
	}
	return newest
}

// CurrentIndex reads the index file of the current image, returning -1 if
// it is missing or malformed.
func CurrentIndex(fs vfs.FS, p paths.Paths) int {
	return status.ReadIndex(fs, p.At(paths.Current()))
}

func parseIndexName(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	n := 0
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// isDir reports whether entry is a directory, falling back to an explicit
// Stat when the directory entry's type bits are not resolved (e.g.
// os.ModeIrregular).
func isDir(fs vfs.FS, path string, entry os.DirEntry) bool {
	t := entry.Type()
	if t&os.ModeIrregular == 0 && t&os.ModeSymlink == 0 {
		return entry.IsDir()
	}
	fi, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}
