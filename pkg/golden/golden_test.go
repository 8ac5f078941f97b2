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

package golden_test

import (
	"testing"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/golden"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	"github.com/sierra-embedded/sysimg-boot/tests/mocks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v5"
	"github.com/twpayne/go-vfs/v5/vfst"
)

func TestGolden(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Golden Installer test suite")
}

type nullInstaller struct{}

func (nullInstaller) GetAppHashFromSymlink(path string) (string, error) { return "", nil }
func (nullInstaller) InstallAppWriteableFiles(string, string, string, string) error { return nil }
func (nullInstaller) UpdateAppWriteableFiles(string, string, string) error          { return nil }
func (nullInstaller) ImportLegacyWriteableFiles(string, string, string, string, string) {
}

type nullLabeler struct{}

func (nullLabeler) GetAppLabel(string) string { return "" }

func writeStaging(testFs vfs.FS, p paths.Paths, version string) {
	staging := p.StagingSystem()
	Expect(vfs.MkdirAll(testFs, staging+"/bin", 0750)).To(Succeed())
	Expect(vfs.MkdirAll(testFs, staging+"/lib", 0750)).To(Succeed())
	Expect(vfs.MkdirAll(testFs, staging+"/modules", 0750)).To(Succeed())
	Expect(vfs.MkdirAll(testFs, staging+"/config", 0750)).To(Succeed())
	Expect(vfs.MkdirAll(testFs, staging+"/apps", 0750)).To(Succeed())
	Expect(testFs.WriteFile(staging+"/config/apps.cfg", []byte("apps"), 0640)).To(Succeed())
	Expect(testFs.WriteFile(staging+"/config/users.cfg", []byte("users"), 0640)).To(Succeed())
	Expect(testFs.WriteFile(staging+"/config/modules.cfg", []byte("mods"), 0640)).To(Succeed())
	Expect(testFs.WriteFile(staging+"/version", []byte(version), 0640)).To(Succeed())
	Expect(testFs.WriteFile(staging+"/info.properties", []byte("info"), 0640)).To(Succeed())
}

var _ = Describe("ShouldInstallGolden", func() {
	var testFs vfs.FS
	var cleanup func()
	var p paths.Paths
	var g golden.Installer

	BeforeEach(func() {
		fs, c, err := vfst.NewTestFS(map[string]interface{}{})
		Expect(err).ToNot(HaveOccurred())
		testFs = fs
		cleanup = c
		p = paths.Paths{ImagesRoot: "/images", AppsRoot: "/apps", StagingRoot: "/staging", MarkerRoot: "/marker"}
		g = golden.Installer{Fs: testFs, Log: logger.NewNull(), Paths: p, Mounter: &mocks.FakeMounter{}, Syncer: &mocks.FakeSyncer{}, AppInst: nullInstaller{}, Smack: nullLabeler{}}
	})

	AfterEach(func() { cleanup() })

	It("says yes when no system is installed yet", func() {
		Expect(g.ShouldInstallGolden(-1)).To(BeTrue())
	})

	It("says no when the staged system is malformed", func() {
		Expect(g.ShouldInstallGolden(0)).To(BeFalse())
	})

	It("says yes when the staged version differs from the last-installed marker", func() {
		writeStaging(testFs, p, "v2")
		Expect(vfs.MkdirAll(testFs, p.MarkerRoot, 0750)).To(Succeed())
		Expect(testFs.WriteFile(p.LastInstalledGoldenVersion(), []byte("v1"), 0640)).To(Succeed())
		Expect(g.ShouldInstallGolden(0)).To(BeTrue())
	})

	It("says no when the staged version matches the last-installed marker", func() {
		writeStaging(testFs, p, "v1")
		Expect(vfs.MkdirAll(testFs, p.MarkerRoot, 0750)).To(Succeed())
		Expect(testFs.WriteFile(p.LastInstalledGoldenVersion(), []byte("v1"), 0640)).To(Succeed())
		Expect(g.ShouldInstallGolden(0)).To(BeFalse())
	})
})

var _ = Describe("InstallGolden", func() {
	var testFs vfs.FS
	var cleanup func()
	var p paths.Paths
	var mounter *mocks.FakeMounter
	var syncer *mocks.FakeSyncer
	var g golden.Installer

	BeforeEach(func() {
		fs, c, err := vfst.NewTestFS(map[string]interface{}{})
		Expect(err).ToNot(HaveOccurred())
		testFs = fs
		cleanup = c
		p = paths.Paths{ImagesRoot: "/images", AppsRoot: "/apps", StagingRoot: "/staging", MarkerRoot: "/marker"}
		mounter = &mocks.FakeMounter{}
		syncer = &mocks.FakeSyncer{}
		g = golden.Installer{Fs: testFs, Log: logger.NewNull(), Paths: p, Mounter: mounter, Syncer: syncer, AppInst: nullInstaller{}, Smack: nullLabeler{}}
		writeStaging(testFs, p, "v2")
		Expect(vfs.MkdirAll(testFs, p.MarkerRoot, 0750)).To(Succeed())
	})

	AfterEach(func() { cleanup() })

	It("materializes a new numbered image from staging when nothing is installed", func() {
		newIndex, err := g.InstallGolden(-1, -1)
		Expect(err).ToNot(HaveOccurred())
		Expect(newIndex).To(Equal(0))

		s := status.ReadStatus(testFs, logger.NewNull(), p.At(paths.Current()), constants.MaxTries)
		Expect(s.Kind).To(Equal(status.Good))
		Expect(status.ReadIndex(testFs, p.At(paths.Current()))).To(Equal(0))

		data, err := testFs.ReadFile(p.LastInstalledGoldenVersion())
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("v2"))

		_, err = testFs.Stat(p.NeedsLdconfigMarker())
		Expect(err).ToNot(HaveOccurred())

		Expect(syncer.Calls).To(Equal(1))
	})

	It("demotes and lazy-unmounts the current image before promoting the new one", func() {
		Expect(vfs.MkdirAll(testFs, p.Current(), 0750)).To(Succeed())
		Expect(status.WriteStatus(testFs, p.At(paths.Current()), "good")).To(Succeed())
		Expect(status.WriteIndex(testFs, p.At(paths.Current()), 0)).To(Succeed())

		newIndex, err := g.InstallGolden(0, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(newIndex).To(Equal(1))

		Expect(mounter.UnmountedPaths).To(ContainElement(p.Current()))

		// The demoted image is pruned along with everything else non-current
		// once the new golden image has been promoted (step 7).
		_, err = testFs.Stat(p.At(paths.Numbered(0)).Dir())
		Expect(err).To(HaveOccurred())

		s := status.ReadStatus(testFs, logger.NewNull(), p.At(paths.Current()), constants.MaxTries)
		Expect(s.Kind).To(Equal(status.Good))
	})

	It("copies the previous image's config tree forward into the new image", func() {
		oldConfig := p.At(paths.Numbered(3)).Path("config")
		Expect(vfs.MkdirAll(testFs, oldConfig, 0750)).To(Succeed())
		Expect(testFs.WriteFile(oldConfig+"/settings.ini", []byte("carried forward"), 0640)).To(Succeed())
		Expect(status.WriteIndex(testFs, p.At(paths.Numbered(3)), 3)).To(Succeed())

		_, err := g.InstallGolden(3, -1)
		Expect(err).ToNot(HaveOccurred())

		data, err := testFs.ReadFile(p.At(paths.Current()).Path("config", "settings.ini"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("carried forward"))
	})
})

var _ = Describe("DeleteAllButCurrent", func() {
	It("removes every non-current image and the legacy firmware tree", func() {
		testFs, cleanup, err := vfst.NewTestFS(map[string]interface{}{})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		p := paths.Paths{ImagesRoot: "/images", LegacyFirmwareDir: "/opt/legato"}
		Expect(vfs.MkdirAll(testFs, p.Current(), 0750)).To(Succeed())
		Expect(vfs.MkdirAll(testFs, p.At(paths.Numbered(0)).Dir(), 0750)).To(Succeed())
		Expect(vfs.MkdirAll(testFs, p.At(paths.Numbered(1)).Dir(), 0750)).To(Succeed())
		Expect(vfs.MkdirAll(testFs, p.LegacyFirmwareDir, 0750)).To(Succeed())

		mounter := &mocks.FakeMounter{}
		Expect(golden.DeleteAllButCurrent(testFs, logger.NewNull(), mounter, p)).To(Succeed())

		_, err = testFs.Stat(p.Current())
		Expect(err).ToNot(HaveOccurred())
		_, err = testFs.Stat(p.At(paths.Numbered(0)).Dir())
		Expect(err).To(HaveOccurred())
		_, err = testFs.Stat(p.At(paths.Numbered(1)).Dir())
		Expect(err).To(HaveOccurred())
		_, err = testFs.Stat(p.LegacyFirmwareDir)
		Expect(err).To(HaveOccurred())

		Expect(mounter.UnmountedPaths).To(ContainElement(p.At(paths.Numbered(0)).Dir()))
		Expect(mounter.UnmountedPaths).To(ContainElement(p.At(paths.Numbered(1)).Dir()))
	})
})

var _ = Describe("RequestLdconfigRebuild and UpdateLdconfigCache", func() {
	It("writes and then clears the ldconfig marker", func() {
		testFs, cleanup, err := vfst.NewTestFS(map[string]interface{}{})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		p := paths.Paths{ImagesRoot: "/images"}
		Expect(vfs.MkdirAll(testFs, p.Current(), 0750)).To(Succeed())
		Expect(vfs.MkdirAll(testFs, "/etc", 0755)).To(Succeed())
		golden.RequestLdconfigRebuild(testFs, logger.NewNull(), p)
		_, err = testFs.Stat(p.NeedsLdconfigMarker())
		Expect(err).ToNot(HaveOccurred())

		runner := &mocks.FakeRunner{}
		golden.UpdateLdconfigCache(testFs, logger.NewNull(), runner, p)

		Expect(runner.WasCalledWith("ldconfig")).To(BeTrue())
		data, err := testFs.ReadFile("/etc/ld.so.conf")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("/images/current/lib"))

		_, err = testFs.Stat(p.NeedsLdconfigMarker())
		Expect(err).To(HaveOccurred())
	})
})
