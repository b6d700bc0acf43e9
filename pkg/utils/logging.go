package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// logrus maps a level onto its logrus equivalent.
func (l LogLevel) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogConfig describes how NewLogger builds a logger.
type LogConfig struct {
	Level  string
	Format string // text or json
	File   string // empty logs to stderr
	// MaxSize rotates File once it grows past this many megabytes. Zero disables rotation.
	MaxSize    int64
	MaxBackups int
	Compress   bool
}

// NewLogger builds a logrus logger from cfg. The returned closer releases the log file, if any.
func NewLogger(cfg LogConfig) (*logrus.Logger, io.Closer, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level.logrus())

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	switch {
	case cfg.File == "":
		logger.SetOutput(os.Stderr)
	case cfg.MaxSize > 0:
		rotator, err := NewLogRotator(RotationConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.SetOutput(rotator)
		closer = rotator
	default:
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(file)
		closer = file
	}

	return logger, closer, nil
}

// Component returns an entry tagged with the component name, the way every package logs.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", name)
}

// DiscardLogger returns an entry that drops everything. Tests use it.
func DiscardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
