// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog returns an slog.Logger backed by the global zerolog logger. Used
// for libraries that speak log/slog, like the supervision tree hook.
func Slog() *slog.Logger {
	return slog.New(slogBridge{})
}

// slogBridge forwards slog records into zerolog.
type slogBridge struct {
	attrs []slog.Attr
	group string
}

func (b slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return slogToZerologLevel(level) >= Logger().GetLevel()
}

func (b slogBridge) Handle(_ context.Context, rec slog.Record) error {
	logger := Logger()
	ev := logger.WithLevel(slogToZerologLevel(rec.Level))
	for _, attr := range b.attrs {
		ev = ev.Interface(b.key(attr.Key), attr.Value.Any())
	}
	rec.Attrs(func(attr slog.Attr) bool {
		ev = ev.Interface(b.key(attr.Key), attr.Value.Any())
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	merged = append(merged, b.attrs...)
	merged = append(merged, attrs...)
	return slogBridge{attrs: merged, group: b.group}
}

func (b slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	prefix := name
	if b.group != "" {
		prefix = b.group + "." + name
	}
	return slogBridge{attrs: b.attrs, group: prefix}
}

func (b slogBridge) key(k string) string {
	if b.group == "" {
		return k
	}
	return b.group + "." + k
}

func slogToZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
