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

package daemon_test

import (
	"os"
	"testing"
	"time"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/daemon"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDaemon(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Daemon test suite")
}

var _ = Describe("Real.Daemonize", func() {
	It("returns immediately when already the detached child", func() {
		Expect(os.Setenv("SYSIMG_BOOT_DAEMON_CHILD", "1")).To(Succeed())
		defer os.Unsetenv("SYSIMG_BOOT_DAEMON_CHILD")

		start := time.Now()
		err := daemon.Real{}.Daemonize(5 * time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})
})

var _ = Describe("Setsid", func() {
	It("is callable", func() {
		// Setsid fails with EPERM if this process already leads its
		// process group and succeeds otherwise, depending on how the test
		// binary was started; we only assert it does not panic and returns
		// some (pid, err) pair.
		_, _ = daemon.Setsid()
	})
})
