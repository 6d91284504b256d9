// Package logging builds the console's structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Runtime is the process logger. Without a log file it writes text to the
// given console writer; with one it writes JSON to the file only, so device
// output on stdout and the operator's terminal stay clean.
type Runtime struct {
	Logger *log.Logger
	file   *os.File
	path   string
}

// New creates the logger at the named level.
func New(console io.Writer, level, path string) (*Runtime, error) {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if path == "" {
		logger := log.NewWithOptions(console, log.Options{
			Level:           lvl,
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
		})
		return &Runtime{Logger: logger}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	// #nosec G304 -- path comes from the operator's own config.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(file, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)
	logger.With("log_file", path).Debug("logger initialized")

	return &Runtime{Logger: logger, file: file, path: path}, nil
}

// ForSession returns a logger tagged with the session and port.
func (r *Runtime) ForSession(sessionID, port string) *log.Logger {
	return r.Logger.With("session_id", sessionID, "port", port)
}

// Path returns the log file path, if any.
func (r *Runtime) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Close closes the log file.
func (r *Runtime) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}
