package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init points the global logger at path, or at a console writer on stderr when path
// is empty. The returned closer releases the log file.
func Init(level zerolog.Level, path string) (io.Closer, error) {
	var out io.Writer
	var closer io.Closer = io.NopCloser(nil)

	if path == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	} else {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = logFile
		closer = logFile
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(out)).Level(level).With().Timestamp().Logger()

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
	return closer, nil
}
