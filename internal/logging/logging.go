// Package logging provides a configured zerolog logger shared across
// components, optionally mirrored to a rotating file.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// New returns a root logger at the given level, writing to stdout and,
// when dir is non-empty, to a rotating file under dir as well.
func New(level string, dir string) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if dir != "" {
		writer = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:  dir + "/faceaccess.log",
			MaxSize:   50, // megabytes
			MaxAge:    28, // days
			MaxBackups: 5,
			LocalTime: false,
			Compress:  true,
		})
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	logger = logger.Level(parseLevel(level))
	return logger
}

// For returns a sub-logger tagged with the given component name, the same
// way every component-specific logger in this process is derived from the
// single root logger rather than constructed independently.
func For(root zerolog.Logger, component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
