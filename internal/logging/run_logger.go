package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunLogger manages logging for a single chatsync invocation. Entries go to
// a per-run log file and to the console, and the logger is installed as the
// global zerolog logger so library packages share the same sinks.
type RunLogger struct {
	runID     string
	path      string
	logFile   *os.File
	logger    zerolog.Logger
	fallback  zerolog.Logger
	mutex     sync.Mutex
	startTime time.Time
}

var (
	currentLogger *RunLogger
	loggerMutex   sync.Mutex
)

// Options controls where a run logger writes.
type Options struct {
	Dir     string    // directory for run_<id>_<ts>.log; default "run_logs"
	Verbose bool      // enable debug level
	Console io.Writer // console sink; default os.Stderr
	Quiet   bool      // skip the console sink entirely
}

// StartRunLogging opens the log file for runID and makes the new logger
// current, closing any previous one.
func StartRunLogging(runID string, opts Options) (*RunLogger, error) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if currentLogger != nil {
		currentLogger.Close()
	}

	dir := opts.Dir
	if dir == "" {
		dir = "run_logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	logPath := filepath.Join(dir, fmt.Sprintf("run_%s_%s.log", runID, timestamp))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	writers := []io.Writer{logFile}
	fallback := zerolog.Nop()
	if !opts.Quiet {
		out := opts.Console
		if out == nil {
			out = os.Stderr
		}
		console := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
		writers = append(writers, console)
		fallback = zerolog.New(console).With().Timestamp().Logger()
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	r := &RunLogger{
		runID:     runID,
		path:      logPath,
		logFile:   logFile,
		fallback:  fallback,
		startTime: time.Now(),
	}
	r.logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("run_id", runID).
		Logger()
	log.Logger = r.logger

	currentLogger = r
	r.writeHeader()
	return r, nil
}

// GetCurrentLogger returns the active run logger, or nil.
func GetCurrentLogger() *RunLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return currentLogger
}

// Path returns the log file path.
func (r *RunLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Log writes a formatted entry at info level.
func (r *RunLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.logger.Info().
		Dur("elapsed", time.Since(r.startTime).Round(time.Millisecond)).
		Msgf(format, args...)
}

// LogSection writes a section banner.
func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}
	separator := strings.Repeat("=", 80)
	r.Log(separator)
	r.Log("= %s", title)
	r.Log(separator)
}

// LogPayload records a request or response body in the log file only; the
// console gets the size.
func (r *RunLogger) LogPayload(label string, body []byte) {
	if r == nil {
		return
	}
	r.Log("%s (%d bytes)", label, len(body))

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.logFile != nil {
		r.logFile.WriteString("--- " + label + " START ---\n")
		r.logFile.Write(body)
		r.logFile.WriteString("\n--- " + label + " END ---\n")
	}
}

// LogError writes an error entry.
func (r *RunLogger) LogError(context string, err error) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger.Error().Err(err).Str("step", context).Msg("Step failed")
}

// Close finalizes the log file.
func (r *RunLogger) Close() {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.logFile == nil {
		return
	}
	r.logger.Info().
		Dur("total", time.Since(r.startTime).Round(time.Millisecond)).
		Msg("Run logging completed")
	r.logFile.Sync()
	r.logFile.Close()
	r.logFile = nil
	r.logger = r.fallback
	log.Logger = r.fallback
}

func (r *RunLogger) writeHeader() {
	header := fmt.Sprintf("CHATSYNC RUN LOG\nRun ID: %s\nStart Time: %s\n\n",
		r.runID, r.startTime.Format("2006-01-02 15:04:05"))
	r.logFile.WriteString(header)
	r.logFile.Sync()
}
