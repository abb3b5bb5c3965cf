package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level string // debug, info, warn, error
	File  string // optional rotating log file
}

// New builds the process logger. Output always goes to stderr and, when
// cfg.File is set, also to a rotating file.
func New(cfg Config) *log.Logger {
	var writer io.Writer = os.Stderr
	if cfg.File != "" {
		writer = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}

	return log.NewWithOptions(writer, log.Options{
		ReportCaller:    level == log.DebugLevel,
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "fitquest",
	})
}

// Discard returns a logger that drops everything. Components fall back to it
// when no logger is injected.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
