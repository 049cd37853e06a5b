// Package logging builds the logrus loggers shared by the CLI, the HTTP API and the MCP
// server.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/domain"
)

// Log formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// New creates a logger with the given level and format. Unknown levels fall back to info.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == FormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	return logger
}

// FromConfig creates a logger from the logging section. Output is stdout, stderr or a file
// path opened for appending.
func FromConfig(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	logger := New(cfg.Level, cfg.Format)

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	return logger, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, nil
	}
}
