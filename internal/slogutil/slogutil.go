// Package slogutil configures the process-wide structured logger and gives
// packages a cheap way to get a named child logger.
package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var base *slog.Logger

func init() {
	var out io.Writer = os.Stdout
	if os.Getenv("TIDALSYNC_LOG_DISCARD") != "" {
		out = io.Discard
	}
	level := new(slog.LevelVar)
	if lvl := os.Getenv("TIDALSYNC_LOG_LEVEL"); lvl != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(lvl))); err == nil {
			level.Set(l)
		}
	}
	base = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(base)
}

// For returns a logger tagged with component, the way each long-lived piece
// of the controller identifies its own log lines.
func For(component string) *slog.Logger {
	return base.With(slog.String("component", component))
}

// Error wraps err as a slog.Attr under the conventional "err" key.
func Error(err error) slog.Attr {
	return slog.Any("err", err)
}
