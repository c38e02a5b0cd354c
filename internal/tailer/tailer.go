package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the poll period when none is configured
	DefaultInterval = time.Second
	// MinInterval keeps a misconfigured interval from busy-looping
	MinInterval = 50 * time.Millisecond

	maxReadBytes    = 4 << 20
	maxPendingBytes = 1 << 20
)

// ErrFileAccess is returned by Start when the log file cannot be created or stat'd
var ErrFileAccess = errors.New("log file not accessible")

// Handler receives the output of the tailer. HandleLine is called in file
// order from a single goroutine. HandleError reports transient poll failures.
type Handler interface {
	HandleLine(line string)
	HandleError(err error)
}

// Tailer follows one growing text file by byte offset and hands every new
// complete line to its Handler. Content present before Start is never read.
type Tailer struct {
	path     string
	interval time.Duration
	fs       Filesystem
	logger   *zap.Logger
	handler  Handler

	// pollMu serialises polls so lines are emitted in file order
	pollMu sync.Mutex

	mu         sync.Mutex
	running    bool
	generation uint64
	cancel     context.CancelFunc
	cursor     models.LogCursor
	pending    []byte
	bytesRead  int64
}

// New creates a tailer for path. A nil fs uses the local disk.
func New(path string, interval time.Duration, fs Filesystem, logger *zap.Logger, handler Handler) *Tailer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	if fs == nil {
		fs = OSFilesystem{}
	}

	return &Tailer{
		path:     path,
		interval: interval,
		fs:       fs,
		logger:   logger,
		handler:  handler,
		cursor:   models.LogCursor{FilePath: path},
	}
}

// Start creates the file if needed, places the cursor at its current end and
// begins polling. Calling Start on a running tailer does nothing.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	exists, err := t.fs.Exists(t.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	if !exists {
		t.logger.Info("Log file missing, creating empty file", zap.String("file", t.path))
		if err := t.fs.CreateFile(t.path); err != nil {
			return fmt.Errorf("%w: %w", ErrFileAccess, err)
		}
	}

	size, err := t.fs.Stat(t.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	t.generation++
	t.cursor = models.LogCursor{
		FilePath:     t.path,
		Offset:       size,
		LastPollTime: time.Now(),
	}
	t.pending = nil
	t.bytesRead = 0

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true

	t.logger.Info("Started tailing log file",
		zap.String("file", t.path),
		zap.Int64("offset", size),
		zap.Duration("interval", t.interval))

	go t.loop(loopCtx, t.generation)
	return nil
}

// Stop cancels polling. A poll already in flight finishes but its result is
// discarded. Safe to call in any state and from a Handler.
func (t *Tailer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.cancel()
	t.logger.Info("Stopped tailing log file", zap.String("file", t.path))
}

// IsRunning reports whether the tailer is polling
func (t *Tailer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Cursor returns a copy of the read position
func (t *Tailer) Cursor() models.LogCursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// BytesRead returns the number of bytes read since Start
func (t *Tailer) BytesRead() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesRead
}

func (t *Tailer) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(gen)
		}
	}
}

// current must be called with mu held
func (t *Tailer) current(gen uint64) bool {
	return t.running && t.generation == gen
}

func (t *Tailer) isCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(gen)
}

func (t *Tailer) poll(gen uint64) {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	t.mu.Lock()
	if !t.current(gen) {
		t.mu.Unlock()
		return
	}
	offset := t.cursor.Offset
	t.mu.Unlock()

	size, err := t.fs.Stat(t.path)
	if err != nil {
		t.fail(gen, fmt.Errorf("failed to stat log file: %w", err))
		return
	}

	if size < offset {
		t.mu.Lock()
		if t.current(gen) {
			t.cursor.Offset = 0
			t.cursor.LastPollTime = time.Now()
			t.pending = nil
		}
		t.mu.Unlock()

		t.logger.Info("Log file truncated, resetting cursor",
			zap.String("file", t.path),
			zap.Int64("old_offset", offset),
			zap.Int64("new_size", size))
		return
	}

	if size == offset {
		t.mu.Lock()
		if t.current(gen) {
			t.cursor.LastPollTime = time.Now()
		}
		t.mu.Unlock()
		return
	}

	length := size - offset
	if length > maxReadBytes {
		length = maxReadBytes
	}

	data, err := t.fs.ReadRange(t.path, offset, length)
	if err != nil {
		t.fail(gen, fmt.Errorf("failed to read log file: %w", err))
		return
	}
	if len(data) == 0 {
		return
	}

	t.mu.Lock()
	if !t.current(gen) || t.cursor.Offset != offset {
		t.mu.Unlock()
		return
	}
	t.cursor.Offset = offset + int64(len(data))
	t.cursor.LastPollTime = time.Now()
	t.bytesRead += int64(len(data))

	buf := append(t.pending, data...)
	lines, rest := splitLines(buf)
	if len(rest) > maxPendingBytes {
		t.logger.Warn("Dropping oversized unterminated line",
			zap.String("file", t.path),
			zap.Int("size", len(rest)))
		rest = nil
	}
	t.pending = append([]byte(nil), rest...)
	t.mu.Unlock()

	t.logger.Debug("Read new log content",
		zap.String("file", t.path),
		zap.Int("bytes", len(data)),
		zap.Int("lines", len(lines)))

	for _, line := range lines {
		if !t.isCurrent(gen) {
			return
		}
		t.handler.HandleLine(line)
	}
}

func (t *Tailer) fail(gen uint64, err error) {
	if !t.isCurrent(gen) {
		return
	}
	t.logger.Warn("Poll failed", zap.String("file", t.path), zap.Error(err))
	t.handler.HandleError(err)
}

// splitLines returns the non-empty complete lines in buf and the trailing
// fragment that has no terminator yet
func splitLines(buf []byte) ([]string, []byte) {
	var lines []string
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			return lines, buf
		}
		line := strings.TrimRight(string(buf[:idx]), "\r")
		buf = buf[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
}
