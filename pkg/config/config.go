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

// Package config assembles the bootstrapper's Config: filesystem, logger,
// runner, mounter, rebooter/syncer, resolved Paths, and the Installer/
// Labeler collaborators, built via functional options and a NewConfig
// constructor. An optional /etc/sysimg-boot.yaml overrides Paths and
// MaxTries without a recompile.
package config

import (
	"os"

	"github.com/sanity-io/litter"
	"github.com/spf13/viper"
	"github.com/twpayne/go-vfs/v5"
	"gopkg.in/yaml.v3"

	"github.com/sierra-embedded/sysimg-boot/internal/sysboot/logger"
	"github.com/sierra-embedded/sysimg-boot/pkg/constants"
	"github.com/sierra-embedded/sysimg-boot/pkg/installer"
	"github.com/sierra-embedded/sysimg-boot/pkg/paths"
	"github.com/sierra-embedded/sysimg-boot/pkg/runner"
	"github.com/sierra-embedded/sysimg-boot/pkg/smack"
	"github.com/sierra-embedded/sysimg-boot/pkg/sysutil"
)

// DefaultConfigFile is the optional ambient configuration-file location.
const DefaultConfigFile = "/etc/sysimg-boot.yaml"

// fileConfig is the shape of the optional on-disk override file.
type fileConfig struct {
	ImagesRoot        string `yaml:"imagesRoot" mapstructure:"imagesRoot"`
	AppsRoot          string `yaml:"appsRoot" mapstructure:"appsRoot"`
	StagingRoot       string `yaml:"stagingRoot" mapstructure:"stagingRoot"`
	MarkerRoot        string `yaml:"markerRoot" mapstructure:"markerRoot"`
	LegacyFirmwareDir string `yaml:"legacyFirmwareDir" mapstructure:"legacyFirmwareDir"`
	MaxTries          int    `yaml:"maxTries" mapstructure:"maxTries"`
}

// Config is the resolved set of collaborators and paths every component
// operates against.
type Config struct {
	Fs       vfs.FS
	Logger   logger.Logger
	Runner   runner.Runner
	Mounter  sysutil.Mounter
	Syncer   sysutil.Syncer
	Rebooter sysutil.Rebooter
	Console  sysutil.ConsoleDumper

	Paths    paths.Paths
	MaxTries int

	Installer installer.Installer
	Smack     smack.Labeler
}

// GenericOptions mutates a Config during construction.
type GenericOptions func(*Config)

func WithFs(fs vfs.FS) GenericOptions {
	return func(c *Config) { c.Fs = fs }
}

func WithLogger(l logger.Logger) GenericOptions {
	return func(c *Config) { c.Logger = l }
}

func WithRunner(r runner.Runner) GenericOptions {
	return func(c *Config) { c.Runner = r }
}

func WithMounter(m sysutil.Mounter) GenericOptions {
	return func(c *Config) { c.Mounter = m }
}

func WithSyncer(s sysutil.Syncer) GenericOptions {
	return func(c *Config) { c.Syncer = s }
}

func WithRebooter(r sysutil.Rebooter) GenericOptions {
	return func(c *Config) { c.Rebooter = r }
}

func WithConsole(d sysutil.ConsoleDumper) GenericOptions {
	return func(c *Config) { c.Console = d }
}

func WithPaths(p paths.Paths) GenericOptions {
	return func(c *Config) { c.Paths = p }
}

func WithMaxTries(n int) GenericOptions {
	return func(c *Config) { c.MaxTries = n }
}

func WithInstaller(i installer.Installer) GenericOptions {
	return func(c *Config) { c.Installer = i }
}

func WithSmack(s smack.Labeler) GenericOptions {
	return func(c *Config) { c.Smack = s }
}

// NewConfig builds the default production Config, then applies opts, then
// loads an optional /etc/sysimg-boot.yaml on top (when the file is present,
// viper lets environment variables override the keys it sets; no command-
// line flags are bound), following a "construct
// defaults, apply options, then resolve ambient state" shape.
func NewConfig(opts ...GenericOptions) *Config {
	level := "info"
	if os.Getenv("SYSIMG_BOOT_DEBUG") != "" {
		level = "debug"
	}
	log := logger.New("sysimg-boot", level, os.Stderr)

	defaultPaths := paths.Paths{
		ImagesRoot:        "/legato/systems",
		AppsRoot:          "/legato/apps",
		StagingRoot:       "/mnt/legato",
		MarkerRoot:        "/legato",
		LegacyFirmwareDir: "/opt/legato",
	}

	c := &Config{
		Fs:       vfs.OSFS,
		Logger:   log,
		MaxTries: constants.MaxTries,
		Paths:    defaultPaths,
		Mounter:  sysutil.NewReal("mount"),
	}
	c.Syncer = sysutil.Real{}
	c.Rebooter = sysutil.Real{}
	c.Console = sysutil.Real{}

	for _, o := range opts {
		o(c)
	}

	if c.Runner == nil {
		c.Runner = runner.RealRunner{Logger: c.Logger}
	}
	if c.Installer == nil {
		c.Installer = installer.FS{
			Fs:                  c.Fs,
			Log:                 c.Logger,
			AppsWriteableRelDir: "appsWriteable",
			ImagesRoot:          c.Paths.ImagesRoot,
		}
	}
	if c.Smack == nil {
		c.Smack = smack.XattrLabeler{Log: c.Logger, AppsRoot: c.Paths.AppsRoot}
	}

	loadFileConfig(c)

	c.Logger.Debugf("resolved config: %s", litter.Sdump(c.Paths))
	return c
}

// loadFileConfig applies DefaultConfigFile on top of c, if present. A
// missing or malformed file is not an error: the compiled-in defaults
// (possibly already overridden by GenericOptions) stand.
func loadFileConfig(c *Config) {
	viper.SetConfigFile(DefaultConfigFile)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	data, err := os.ReadFile(DefaultConfigFile)
	if err != nil {
		return
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		c.Logger.Warnf("malformed %s, ignoring: %s", DefaultConfigFile, err)
		return
	}

	if err := viper.ReadInConfig(); err == nil {
		_ = viper.Unmarshal(&fc)
	}

	if fc.ImagesRoot != "" {
		c.Paths.ImagesRoot = fc.ImagesRoot
	}
	if fc.AppsRoot != "" {
		c.Paths.AppsRoot = fc.AppsRoot
	}
	if fc.StagingRoot != "" {
		c.Paths.StagingRoot = fc.StagingRoot
	}
	if fc.MarkerRoot != "" {
		c.Paths.MarkerRoot = fc.MarkerRoot
	}
	if fc.LegacyFirmwareDir != "" {
		c.Paths.LegacyFirmwareDir = fc.LegacyFirmwareDir
	}
	if fc.MaxTries > 0 {
		c.MaxTries = fc.MaxTries
	}
}
