package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mesh-intelligence/almsync/internal/logging"
)

// Rotation settings for --log-file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// newLogger creates the command logger. It writes to stderr, as a console
// writer on a terminal and as JSON otherwise, and additionally to a rotating,
// redacted log file when logFile is set. The returned closer releases the file.
func newLogger(stderr io.Writer, verbose, quiet bool, logFile string) (zerolog.Logger, io.Closer, error) {
	var (
		writer io.Writer = selectOutput(stderr)
		closer io.Closer = nopCloser{}
	)
	if logFile != "" {
		fw, err := createLogFileWriter(logFile)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writer = zerolog.MultiLevelWriter(writer, fw)
		closer = fw
	}

	logger := zerolog.New(writer).
		Level(selectLevel(verbose, quiet)).
		Hook(logging.NewSensitiveDataHook()).
		With().Timestamp().Logger()
	return logger, closer, nil
}

// selectLevel determines the log level from the verbosity flags.
func selectLevel(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// selectOutput uses a console writer when w is a terminal and NO_COLOR is
// unset, w itself otherwise.
func selectOutput(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}
	return w
}

// filteringWriteCloser redacts credentials before they reach the file.
type filteringWriteCloser struct {
	filter *logging.FilteringWriter
	closer io.Closer
}

func (fwc *filteringWriteCloser) Write(p []byte) (int, error) {
	return fwc.filter.Write(p)
}

func (fwc *filteringWriteCloser) Close() error {
	return fwc.closer.Close()
}

func createLogFileWriter(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	return &filteringWriteCloser{filter: logging.NewFilteringWriter(lj), closer: lj}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
