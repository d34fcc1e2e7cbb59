// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"runtime"
	"time"
)

var (
	defaultFactory *loggerFactory
	defaultInfo    *log.Logger
	defaultWarn    *log.Logger
	defaultError   *log.Logger
	defaultDebug   *log.Logger
)

func init() {
	defaultFactory = &loggerFactory{out: os.Stdout, errOut: os.Stderr, format: "text", level: "INFO"}
	refreshDefaults()
}

// Init reconfigures the package-level loggers. format is "text" or "json";
// level is the opaque --log-level / DRIFTFS_LOG_LEVEL filter string.
func Init(format, level string) {
	defaultFactory = &loggerFactory{out: os.Stdout, errOut: os.Stderr, format: format, level: level}
	refreshDefaults()
}

func refreshDefaults() {
	defaultInfo = defaultFactory.newLogger("INFO", "")
	defaultWarn = defaultFactory.newLogger("WARNING", "")
	defaultError = defaultFactory.newLogger("ERROR", "")
	defaultDebug = defaultFactory.newLogger("DEBUG", "")
}

func Infof(format string, v ...interface{})  { defaultInfo.Printf(format, v...) }
func Warnf(format string, v ...interface{})  { defaultWarn.Printf(format, v...) }
func Errorf(format string, v ...interface{}) { defaultError.Printf(format, v...) }
func Debugf(format string, v ...interface{}) { defaultDebug.Printf(format, v...) }

// NewInfo returns a logger for logging info with the given prefix, e.g. a
// per-request client id or path.
func NewInfo(prefix string) *log.Logger { return defaultFactory.newLogger("INFO", prefix) }

// NewError returns a logger for logging errors with the given prefix.
func NewError(prefix string) *log.Logger { return defaultFactory.newLogger("ERROR", prefix) }

// NewStdLogger adapts the package logger into a *log.Logger at a fixed
// level, for handing to libraries (jacobsa/fuse's MountConfig) that expect
// the standard library's logger type rather than slog.
func NewStdLogger(prefix string, level slog.Level) *log.Logger {
	programLevel := new(slog.LevelVar)
	programLevel.Set(level)
	handler := slog.NewTextHandler(defaultFactory.errOut, &slog.HandlerOptions{Level: programLevel})
	return log.New(&handlerWriter{h: handler, level: level}, prefix, 0)
}

// Slog returns an slog.Logger backed by the same format/level
// configuration as Init, for packages (watcher, handlers) that log
// structured key-value pairs rather than printf-style messages.
func Slog() *slog.Logger {
	programLevel := new(slog.LevelVar)
	programLevel.Set(levelFromString(defaultFactory.level))
	opts := &slog.HandlerOptions{Level: programLevel}
	if defaultFactory.format == "json" {
		return slog.New(slog.NewJSONHandler(defaultFactory.errOut, opts))
	}
	return slog.New(slog.NewTextHandler(defaultFactory.errOut, opts))
}

type loggerFactory struct {
	out, errOut io.Writer
	format      string
	level       string
}

func (f *loggerFactory) newLogger(level, prefix string) *log.Logger {
	return log.New(f.writer(level), prefix, log.Ldate|log.Ltime|log.Lmicroseconds)
}

func (f *loggerFactory) writer(level string) io.Writer {
	if severity(level) < levelFromString(f.level) {
		return io.Discard
	}

	dst := f.out
	if level == "ERROR" || level == "WARNING" {
		dst = f.errOut
	}
	if f.format == "json" {
		return &jsonWriter{w: dst, level: level}
	}
	return &textWriter{w: dst, level: level}
}

func severity(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handlerWriter adapts an slog.Handler into an io.Writer so that a
// *log.Logger can be backed by structured logging underneath. Kept for
// libraries that require a *log.Logger (jacobsa/fuse) while the rest of the
// package logs through slog.
type handlerWriter struct {
	h         slog.Handler
	level     slog.Level
	capturePC bool
}

func (w *handlerWriter) Write(buf []byte) (int, error) {
	if !w.h.Enabled(context.Background(), w.level) {
		return 0, nil
	}
	var pc uintptr
	if w.capturePC {
		var pcs [1]uintptr
		runtime.Callers(4, pcs[:])
		pc = pcs[0]
	}

	origLen := len(buf)
	if len(buf) > 0 && buf[len(buf)-1] == '\n' {
		buf = buf[:len(buf)-1]
	}
	r := slog.NewRecord(time.Now(), w.level, string(buf), pc)
	return origLen, w.h.Handle(context.Background(), r)
}
