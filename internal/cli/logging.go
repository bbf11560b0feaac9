package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const logFileName = "kd5.log"

// parseLevel maps debug|info|warn|error to a zerolog level. Unknown or
// empty values fall back to info.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// newLogger opens <dir>/kd5.log for appending and returns a logger writing
// JSON lines to it. With console set, a human readable copy goes to
// stderr as well. The returned closer releases the file.
func newLogger(dir, level string, console bool, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	var w io.Writer = f
	if console {
		w = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen})
	}
	log := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return log, f, nil
}
