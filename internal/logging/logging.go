// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FileName is the log file kept in the cache directory.
const FileName = "trendpost.log"

const timeFormat = "2006-01-02 15:04:05"

// Options selects the logger outputs.
type Options struct {
	Level   string
	Console io.Writer // nil means stderr
	// FilePath, if set, also appends plain-text lines to this file.
	FilePath string
}

// Logger wraps the root zerolog.Logger and owns the log file.
type Logger struct {
	zerolog.Logger
	path string
	file *os.File
}

// New builds the root logger. A log file that cannot be opened is reported on
// the console and otherwise ignored.
func New(opts Options) *Logger {
	zerolog.ErrorFieldName = "err"

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: timeFormat}}

	l := &Logger{}
	if opts.FilePath != "" {
		f, err := openFile(opts.FilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		} else {
			l.file = f
			l.path = opts.FilePath
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        zerolog.SyncWriter(f),
				TimeFormat: timeFormat,
				NoColor:    true,
			})
		}
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// Path returns the log file path, or "" when logging to the console only.
func (l *Logger) Path() string { return l.path }

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
