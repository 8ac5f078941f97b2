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

package inventory_test

import (
	"testing"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/inventory"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/status"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v5"
	"github.com/twpayne/go-vfs/v5/vfst"
)

func TestInventory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Image Inventory test suite")
}

var _ = Describe("Image Inventory", func() {
	var testFs vfs.FS
	var p paths.Paths
	var log logger.Logger
	var cleanup func()

	BeforeEach(func() {
		fs, c, err := vfst.NewTestFS(map[string]interface{}{})
		Expect(err).ToNot(HaveOccurred())
		testFs = fs
		cleanup = c
		p = paths.Paths{ImagesRoot: "/images"}
		log = logger.NewNull()
		Expect(vfs.MkdirAll(testFs, p.ImagesRoot, 0750)).To(Succeed())
	})

	AfterEach(func() { cleanup() })

	makeImage := func(index int, status_ string) {
		img := p.At(paths.Numbered(index))
		Expect(vfs.MkdirAll(testFs, img.Dir(), 0750)).To(Succeed())
		Expect(status.WriteIndex(testFs, img, index)).To(Succeed())
		if status_ != "" {
			Expect(status.WriteStatus(testFs, img, status_)).To(Succeed())
		}
	}

	It("returns -1 on an empty images root", func() {
		Expect(inventory.NewestUsableIndex(testFs, log, p, constants.MaxTries)).To(Equal(-1))
	})

	It("ignores \"current\" and \"unpack\"", func() {
		Expect(vfs.MkdirAll(testFs, p.Current(), 0750)).To(Succeed())
		Expect(vfs.MkdirAll(testFs, p.UnpackImage(), 0750)).To(Succeed())
		Expect(inventory.NewestUsableIndex(testFs, log, p, constants.MaxTries)).To(Equal(-1))
	})

	It("returns the largest Good or Tryable index", func() {
		makeImage(3, "good")
		makeImage(5, "tried 1")
		makeImage(7, "bad")
		Expect(inventory.NewestUsableIndex(testFs, log, p, constants.MaxTries)).To(Equal(5))
	})

	It("skips a Bad image even if its index is larger", func() {
		makeImage(3, "good")
		makeImage(9, "bad")
		Expect(inventory.NewestUsableIndex(testFs, log, p, constants.MaxTries)).To(Equal(3))
	})

	It("treats a new (statusless) image as Tryable and includes it", func() {
		makeImage(4, "")
		Expect(inventory.NewestUsableIndex(testFs, log, p, constants.MaxTries)).To(Equal(4))
	})

	It("reads the current index", func() {
		Expect(vfs.MkdirAll(testFs, p.Current(), 0750)).To(Succeed())
		Expect(status.WriteIndex(testFs, p.At(paths.Current()), 5)).To(Succeed())
		Expect(inventory.CurrentIndex(testFs, p)).To(Equal(5))
	})

	It("returns -1 for current index when there is no current", func() {
		Expect(inventory.CurrentIndex(testFs, p)).To(Equal(-1))
	})
})
