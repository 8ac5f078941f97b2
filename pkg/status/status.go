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

// Package status implements the Status Store: reading and
// classifying an image's "status" file, reading its "index" file, and
// writing a new status. Reads never modify; writes truncate and rewrite.
package status

import (
	"os"
	"strconv"
	"strings"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/twpayne/go-vfs/v5"
)

// Kind is the coarse classification of an image's status file.
type Kind int

const (
	Good Kind = iota
	Bad
	Tryable
)

func (k Kind) String() string {
	switch k {
	case Good:
		return "good"
	case Bad:
		return "bad"
	case Tryable:
		return "tryable"
	default:
		return "unknown"
	}
}

// Status is the classification of an image.
// Tries is only meaningful when Kind == Tryable; 0 means the image has
// never been attempted.
type Status struct {
	Kind  Kind
	Tries int
}

// ReadStatus reads and classifies img's status file. maxTries is the
// caller-supplied try ceiling (Config.MaxTries): a "tried N" status with
// N >= maxTries classifies as Bad rather than Tryable.
func ReadStatus(fs vfs.FS, log logger.Logger, img paths.Image, maxTries int) Status {
	raw, err := readAll(fs, img.StatusFile())
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("image %q is new", img.Name)
			return Status{Kind: Tryable, Tries: 0}
		}
		log.Errorf("failed to read status of image %q: %s", img.Name, err)
		return Status{Kind: Bad}
	}

	switch {
	case strings.HasPrefix(raw, "good"):
		return Status{Kind: Good}
	case strings.HasPrefix(raw, "bad"):
		return Status{Kind: Bad}
	case strings.HasPrefix(raw, "tried "):
		n, ok := parseTries(raw[len("tried "):])
		if !ok {
			log.Errorf("malformed tried-count in status of image %q: %q", img.Name, raw)
			return Status{Kind: Bad}
		}
		if n <= 0 {
			log.Errorf("non-positive tried-count in status of image %q: %q", img.Name, raw)
			return Status{Kind: Bad}
		}
		if n < maxTries {
			return Status{Kind: Tryable, Tries: n}
		}
		log.Infof("image %q has been tried %d times, more than %d", img.Name, n, maxTries)
		return Status{Kind: Bad}
	default:
		log.Errorf("unrecognized status of image %q: %q", img.Name, raw)
		return Status{Kind: Bad}
	}
}

// WriteStatus truncates and rewrites img's status file with value.
func WriteStatus(fs vfs.FS, img paths.Image, value string) error {
	return fs.WriteFile(img.StatusFile(), []byte(value), 0640)
}

// WriteTried writes "tried N" to img's status file.
func WriteTried(fs vfs.FS, img paths.Image, n int) error {
	return WriteStatus(fs, img, "tried "+strconv.Itoa(n))
}

// ReadIndex parses img's index file as a decimal integer, returning -1 on
// any failure (missing file, malformed contents).
func ReadIndex(fs vfs.FS, img paths.Image) int {
	raw, err := readAll(fs, img.IndexFile())
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return -1
	}
	return n
}

// WriteIndex writes n as decimal ASCII into img's index file.
func WriteIndex(fs vfs.FS, img paths.Image, n int) error {
	return fs.WriteFile(img.IndexFile(), []byte(strconv.Itoa(n)), 0640)
}

func parseTries(s string) (int, bool) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func readAll(fs vfs.FS, path string) (string, error) {
	b, err := fs.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
