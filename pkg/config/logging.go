package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/oryx/pkg/logger"
)

// LoggerOptions translates the [log] section into logger options. debug
// forces the debug level regardless of log.level.
func (l LogConfig) LoggerOptions(debug bool) ([]logger.Option, error) {
	var opts []logger.Option

	level := slog.LevelInfo
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(l.Level))); err != nil {
			return nil, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
		}
	}
	opts = append(opts, logger.WithLevel(level))
	if debug {
		opts = append(opts, logger.WithDebug(true))
	}

	switch l.Format {
	case "", LogFormatPretty:
		opts = append(opts, logger.WithPretty(true))
	case LogFormatJSON:
		opts = append(opts, logger.WithJSON(true))
	case LogFormatText:
	default:
		return nil, fmt.Errorf("invalid log.format %q", l.Format)
	}

	return opts, nil
}
