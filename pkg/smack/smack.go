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

// Package smack is the external "smack" collaborator:
// resolving an application's SMACK access-control label. On Linux this
// reads the security.SMACK64 extended attribute off the app's installed
// directory; on any platform or filesystem that doesn't support xattrs,
// it logs at debug and returns an empty label rather than failing, since a
// missing label only narrows sandboxing, it never breaks the lifecycle
// state machine.
package smack

import (
	"path/filepath"

	"github.com/pkg/xattr"
	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
)

const attrName = "security.SMACK64"

// Labeler resolves an app's access-control label, mirroring the
// original's smack.get_app_label.
type Labeler interface {
	GetAppLabel(appName string) string
}

// XattrLabeler reads the label from the security.SMACK64 extended
// attribute of <AppsRoot>/<appName>.
type XattrLabeler struct {
	Log      logger.Logger
	AppsRoot string
}

func (x XattrLabeler) GetAppLabel(appName string) string {
	path := filepath.Join(x.AppsRoot, appName)
	label, err := xattr.Get(path, attrName)
	if err != nil {
		x.Log.Debugf("no SMACK label for app %q: %s", appName, err)
		return ""
	}
	return string(label)
}
