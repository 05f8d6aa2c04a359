package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/logging"
)

// logFileWriter holds the log file writer for cleanup purposes.
var (
	logFileWriter   io.WriteCloser //nolint:gochecknoglobals // Needed for cleanup
	logFileWriterMu sync.Mutex     //nolint:gochecknoglobals // Protects logFileWriter
)

// zerologGlobalMu protects concurrent writes to the zerolog global logger.
var zerologGlobalMu sync.Mutex //nolint:gochecknoglobals // Protects zerolog global

// InitLogger creates and configures a zerolog.Logger based on verbosity flags.
//
// Log levels are set as follows:
//   - verbose=true: Debug level (most detailed)
//   - quiet=true: Warn level (errors and warnings only)
//   - default: Info level (normal operation)
//
// Console output is human readable when stderr is a terminal and NO_COLOR is
// unset, JSON otherwise. Every entry is also written, redacted, to
// ~/.formic/logs/formic.log with rotation. If the log file cannot be created
// the logger continues with console-only output.
func InitLogger(verbose, quiet bool) zerolog.Logger {
	var writer io.Writer = selectOutput()

	if fileWriter, err := createLogFileWriter(); err == nil {
		setLogFileWriter(fileWriter)
		writer = zerolog.MultiLevelWriter(writer, fileWriter)
	}

	logger := buildLogger(selectLevel(verbose, quiet), writer)
	setGlobalLogger(logger)
	return logger
}

// InitLoggerWithWriter creates and configures a zerolog.Logger with a custom writer.
// This is primarily intended for testing purposes.
func InitLoggerWithWriter(verbose, quiet bool, w io.Writer) zerolog.Logger {
	logger := buildLogger(selectLevel(verbose, quiet), w)
	setGlobalLogger(logger)
	return logger
}

func buildLogger(level zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(level).Hook(logging.SecretHook{}).With().Timestamp().Logger()
}

// setGlobalLogger points the zerolog/log package logger at the CLI logger so
// code using log.Info() shares its configuration.
func setGlobalLogger(cliLogger zerolog.Logger) {
	zerologGlobalMu.Lock()
	defer zerologGlobalMu.Unlock()
	log.Logger = cliLogger
}

func setLogFileWriter(w io.WriteCloser) {
	logFileWriterMu.Lock()
	defer logFileWriterMu.Unlock()
	if logFileWriter != nil {
		_ = logFileWriter.Close()
	}
	logFileWriter = w
}

// CloseLogFile closes the global log file writer if it was opened.
func CloseLogFile() {
	logFileWriterMu.Lock()
	defer logFileWriterMu.Unlock()
	if logFileWriter != nil {
		_ = logFileWriter.Close()
		logFileWriter = nil
	}
}

// selectLevel determines the appropriate log level based on flags.
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

// selectOutput picks the console writer for a color terminal and raw JSON
// otherwise. Both are wrapped so secrets never reach the terminal.
func selectOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" { //#nosec G115 -- fd fits in int
		return zerolog.ConsoleWriter{
			Out:        logging.NewRedactingWriter(os.Stderr),
			TimeFormat: time.Kitchen,
		}
	}
	return logging.NewRedactingWriter(os.Stderr)
}

// redactingWriteCloser redacts secrets before they reach the rotating file.
type redactingWriteCloser struct {
	filter *logging.RedactingWriter
	closer io.Closer
}

func (w *redactingWriteCloser) Write(p []byte) (int, error) {
	return w.filter.Write(p)
}

func (w *redactingWriteCloser) Close() error {
	return w.closer.Close()
}

// createLogFileWriter creates the rotating file writer for the CLI log.
func createLogFileWriter() (io.WriteCloser, error) {
	logPath, err := LogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   constants.LogCompress,
	}
	return &redactingWriteCloser{filter: logging.NewRedactingWriter(lj), closer: lj}, nil
}

// formicHome returns FORMIC_HOME when set, otherwise ~/.formic.
func formicHome() (string, error) {
	if home := os.Getenv("FORMIC_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, constants.FormicHome), nil
}

// LogFilePath returns the path to the CLI log file.
func LogFilePath() (string, error) {
	home, err := formicHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, constants.LogsDir, constants.CLILogFileName), nil
}
