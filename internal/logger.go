package internal

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mama165/sdk-go/logs"
)

// NewLogger returns the JSON logger of the sdk, or a colored tint handler
// when format is "pretty" (local runs).
func NewLogger(level, format string) *slog.Logger {
	if !strings.EqualFold(format, "pretty") {
		return logs.GetLoggerFromString(level)
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      l,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))
}
