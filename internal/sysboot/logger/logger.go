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

// Package logger is a small zerolog-backed leveled logger threaded
// through Config (Debugf/Infof/Warnf/Errorf, string-based SetLevel,
// GetLevel returning a zerolog.Level).
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a leveled, structured logger. The zero value is not usable;
// construct with New.
type Logger struct {
	Logger zerolog.Logger
}

// New builds a Logger writing to w, named name, at the given initial
// level ("debug", "info", "warn", "error" - unrecognized defaults to
// info).
func New(name string, level string, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := zerolog.New(w).With().Timestamp().Str("component", name).Logger()
	lg := Logger{Logger: l}
	lg.SetLevel(level)
	return lg
}

// NewNull returns a Logger that discards everything, for use in tests.
func NewNull() Logger {
	return Logger{Logger: zerolog.New(io.Discard)}
}

// SetLevel parses level and applies it; an unrecognized level is treated
// as "info" rather than erroring, since a malformed ambient LOG_LEVEL
// should never prevent the bootstrapper from starting.
func (l *Logger) SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l.Logger = l.Logger.Level(lvl)
}

// GetLevel returns the logger's current level.
func (l Logger) GetLevel() zerolog.Level { return l.Logger.GetLevel() }

func (l Logger) Debugf(format string, args ...interface{}) {
	l.Logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l Logger) Infof(format string, args ...interface{}) {
	l.Logger.Info().Msg(fmt.Sprintf(format, args...))
}

func (l Logger) Warnf(format string, args ...interface{}) {
	l.Logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l Logger) Errorf(format string, args ...interface{}) {
	l.Logger.Error().Msg(fmt.Sprintf(format, args...))
}

// Criticalf logs at error level tagged "critical", for the class of
// errors that are logged-and-tolerated but worth triaging (e.g. an
// unexpected Supervisor exit code).
func (l Logger) Criticalf(format string, args ...interface{}) {
	l.Logger.Error().Bool("critical", true).Msg(fmt.Sprintf(format, args...))
}

// Fatalf logs at error level and terminates the process. It is used only
// by the handful of "fatal" error classes (failed rename of current,
// failed status write on current, failed fork/exec, failed reboot).
func (l Logger) Fatalf(format string, args ...interface{}) {
	l.Logger.Error().Bool("fatal", true).Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
