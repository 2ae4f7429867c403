// ABOUTME: Builds the process logger from the logging config section
// ABOUTME: Text output for terminals, JSON for log collectors
package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harper/audiorelay/internal/application/config"
)

func New(cfg config.LoggingConfig, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	}
	if cfg.JSON {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(w, opts), nil
}
