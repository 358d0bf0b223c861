// Package logging configures the process-wide zerolog logger: console or
// JSON output, optional size-rotated file copy, and request-ID plumbing
// for the HTTP layer.
package logging

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"
)

type ctxKey string

const requestIDKey ctxKey = "logging_request_id"

const (
	megabyte        int64 = 1 << 20
	fallbackSizeMB        = 100
	fallbackAgeDays       = 30

	logFilePerm os.FileMode = 0o600
)

// Config controls logger initialization.
type Config struct {
	Format     string // "json", "console", or "auto"
	Level      string // "debug", "info", "warn", "error"
	Component  string // optional component name
	FilePath   string // optional log file path
	MaxSizeMB  int    // rotate after this size (MB)
	MaxAgeDays int    // keep rotated logs for this many days
	Compress   bool   // gzip rotated logs
}

var (
	mu      sync.Mutex
	logSink io.Closer
)

var timeFmt = time.RFC3339

func init() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures zerolog globals and swaps the process logger. Safe to
// call again on reload; the previous file sink is closed after the new
// logger is live so no events are lost in between.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = timeFmt
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	out := selectWriter(cfg.Format)
	oldSink := logSink
	logSink = nil

	fileOut, err := newRotatingFile(cfg)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
	case fileOut != nil:
		out = io.MultiWriter(out, fileOut)
		logSink = fileOut
	}

	lc := zerolog.New(out).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		lc = lc.Str("component", c)
	}
	log.Logger = lc.Logger()

	if oldSink != nil {
		if err := oldSink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "logging: closing replaced log file: %v\n", err)
		}
	}
	return log.Logger
}

// Shutdown closes the rotating file sink, if one was configured.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if logSink == nil {
		return
	}
	if err := logSink.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "logging: closing log file: %v\n", err)
	}
	logSink = nil
}

// WithRequestID stores the given request ID on the context, minting one
// when the caller has none, and returns both.
func WithRequestID(ctx context.Context, requestID string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey, requestID), requestID
}

// RequestIDFrom returns the request ID stored on the context, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		fmt.Fprintf(os.Stderr, "logging: invalid level %q; using \"info\"\n", level)
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return consoleWriter(os.Stderr)
	case "json":
		return os.Stderr
	case "auto", "":
		if term.IsTerminal(int(os.Stderr.Fd())) {
			return consoleWriter(os.Stderr)
		}
		return os.Stderr
	default:
		fmt.Fprintf(os.Stderr, "logging: invalid format %q; using \"json\"\n", format)
		return os.Stderr
	}
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: timeFmt}
}

// rotatingFile appends to a single log file and renames it aside once it
// would exceed maxBytes. Rotated copies are named <path>.<stamp>, aged out
// after maxAge, and optionally gzipped in the background.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	written  int64
	maxBytes int64
	maxAge   time.Duration
	compress bool
}

func newRotatingFile(cfg Config) (*rotatingFile, error) {
	path := strings.TrimSpace(cfg.FilePath)
	if path == "" {
		return nil, nil
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	sizeMB := cfg.MaxSizeMB
	if sizeMB <= 0 {
		sizeMB = fallbackSizeMB
	}
	ageDays := cfg.MaxAgeDays
	if ageDays < 0 {
		ageDays = fallbackAgeDays
	}

	rf := &rotatingFile{
		path:     path,
		maxBytes: int64(sizeMB) * megabyte,
		maxAge:   time.Duration(ageDays) * 24 * time.Hour,
		compress: cfg.Compress,
	}
	if err := rf.open(); err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	rf.pruneRotated()
	return rf, nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if err := rf.open(); err != nil {
		return 0, err
	}
	if rf.maxBytes > 0 && rf.written+int64(len(p)) > rf.maxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.file.Write(p)
	rf.written += int64(n)
	return n, err
}

// open is a no-op when the file is already held. Callers hold rf.mu.
func (rf *rotatingFile) open() error {
	if rf.file != nil {
		return nil
	}
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePerm)
	if err != nil {
		return err
	}
	rf.file = f
	rf.written = 0
	if info, err := f.Stat(); err == nil {
		rf.written = info.Size()
	}
	return nil
}

func (rf *rotatingFile) rotate() error {
	if err := rf.closeCurrent(); err != nil {
		return err
	}

	switch _, err := os.Stat(rf.path); {
	case err == nil:
		aside := rf.path + "." + time.Now().Format("20060102-150405")
		if renameErr := os.Rename(rf.path, aside); renameErr != nil {
			fmt.Fprintf(os.Stderr, "logging: rotate %s: %v\n", rf.path, renameErr)
		} else if rf.compress {
			go gzipRotated(aside)
		}
	case !errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "logging: stat %s before rotate: %v\n", rf.path, err)
	}

	rf.pruneRotated()
	return rf.open()
}

func (rf *rotatingFile) closeCurrent() error {
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	rf.written = 0
	return err
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.closeCurrent()
}

// pruneRotated removes rotated siblings older than maxAge.
func (rf *rotatingFile) pruneRotated() {
	if rf.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(rf.path)
	prefix := filepath.Base(rf.path) + "."
	cutoff := time.Now().Add(-rf.maxAge)

	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: scan %s for old logs: %v\n", dir, err)
		return
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			fmt.Fprintf(os.Stderr, "logging: remove old log %s: %v\n", entry.Name(), err)
		}
	}
}

// gzipRotated compresses a rotated log in place, replacing it with a .gz
// copy. Failures leave the uncompressed original behind.
func gzipRotated(path string) {
	in, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: open %s to compress: %v\n", path, err)
		return
	}
	defer in.Close()

	out, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, logFilePerm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: create %s.gz: %v\n", path, err)
		return
	}

	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	closeErr := gw.Close()
	outErr := out.Close()
	if err := firstErr(copyErr, closeErr, outErr); err != nil {
		fmt.Fprintf(os.Stderr, "logging: compress %s: %v\n", path, err)
		return
	}
	if err := os.Remove(path); err != nil {
		fmt.Fprintf(os.Stderr, "logging: remove %s after compress: %v\n", path, err)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
