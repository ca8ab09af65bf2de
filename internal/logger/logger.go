// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides leveled, structured logging for the mount
// lifecycle and the adapter's transient-error path. Severities below go
// beyond slog's built-in set because the adapter's error taxonomy (absent /
// transient / fatal) wants a level finer than Debug for the high-volume
// per-callback trace the resolver and driver paths can produce.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels. These map onto slog.Level values spaced widely enough to
// leave room between them, matching the convention slog itself uses between
// Debug/Info/Warn/Error.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelOff     = slog.Level(math.MaxInt) // placeholder; resolved in parseLevel
)

// Format selects the slog handler used to render records.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config selects the logger's level, format and destination.
type Config struct {
	// Level is one of "trace", "debug", "info", "warning", "error", "off"
	// (case-insensitive). Defaults to "info".
	Level string

	// Format is "text" or "json". Defaults to "json".
	Format Format

	// FilePath, if non-empty, directs output to a rotated file instead of
	// stderr.
	FilePath string

	// MaxSizeMB, BackupCount and Compress configure rotation when FilePath
	// is set. Zero values select lumberjack's own defaults (100MB, no cap,
	// uncompressed).
	MaxSizeMB   int
	BackupCount int
	Compress    bool
}

// Logger is a leveled, structured logger wrapping a *slog.Logger. The zero
// value is not usable; construct with New.
type Logger struct {
	slog   *slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New builds a Logger per cfg. If cfg.FilePath is set the returned Logger's
// Close method must be called at unmount to flush and close the rotated log
// file; otherwise Close is a no-op.
func New(cfg Config) (*Logger, error) {
	programLevel := new(slog.LevelVar)
	programLevel.Set(parseLevel(cfg.Level))

	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.BackupCount,
			Compress:   cfg.Compress,
		}
		w = lj
		closer = lj
	}

	handler := newHandler(cfg.Format, w, programLevel)

	return &Logger{
		slog:   slog.New(handler),
		level:  programLevel,
		closer: closer,
	}, nil
}

func newHandler(format Format, w io.Writer, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}

	if format == FormatText {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "off":
		return LevelOff
	default:
		return LevelInfo
	}
}

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// Close releases the underlying rotated file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.slog.Log(context.Background(), LevelTrace, sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.slog.Log(context.Background(), LevelDebug, sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.slog.Log(context.Background(), LevelInfo, sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.slog.Log(context.Background(), LevelWarning, sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.slog.Log(context.Background(), LevelError, sprintf(format, args...))
}
