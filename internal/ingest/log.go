// Package ingest implements the durable, append-only on-disk event log
// (C7): a single-writer buffered log with size- and age-triggered
// rotation and a hard pending-event-count backpressure ceiling. Grounded on the rotation
// trigger in gopkg.in/natefinch/lumberjack.v2 (as used by pkg/logger for
// the application's own log output), but lumberjack's implicit
// rotate-on-Write model has no hook for the contract spec.md requires: a
// segment name that encodes wall-clock time plus a random suffix, a
// durability barrier (fsync) performed exactly at rotate/close, and a
// pending-event count gate that rejects appends before any write is
// attempted. Those pieces are hand-rolled on top of os.File directly.
package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// Config controls segment rotation and buffering.
type Config struct {
	Dir           string        `mapstructure:"dir"`
	MaxBytes      int64         `mapstructure:"max_bytes"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxEvents     int           `mapstructure:"max_events"`
	FlushBatch    int           `mapstructure:"flush_batch"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DefaultConfig matches spec.md §4.7's stated defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		MaxBytes:      16 << 20,
		MaxAge:        60 * time.Second,
		MaxEvents:     100000,
		FlushBatch:    100,
		FlushInterval: 100 * time.Millisecond,
	}
}

// Stats is a point-in-time snapshot of the log's state.
type Stats struct {
	ActiveSegment string
	SegmentBytes  int64
	SegmentAge    time.Duration
	PendingEvents int
	RotationCount int64
}

// Log is the C7 append-only event log.
type Log struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	file          *os.File
	segmentName   string
	segmentBytes  int64
	segmentOpened time.Time
	buf           [][]byte
	bufBytes      int64
	pending       int
	rotating      bool
	rotations     int64
	closed        bool

	flushTimer *time.Timer
}

// Open creates (or resumes into) the log directory and opens the first segment.
func Open(cfg Config, logger *slog.Logger) (*Log, error) {
	if cfg.MaxBytes <= 0 || cfg.MaxAge <= 0 || cfg.MaxEvents <= 0 {
		d := DefaultConfig(cfg.Dir)
		if cfg.MaxBytes <= 0 {
			cfg.MaxBytes = d.MaxBytes
		}
		if cfg.MaxAge <= 0 {
			cfg.MaxAge = d.MaxAge
		}
		if cfg.MaxEvents <= 0 {
			cfg.MaxEvents = d.MaxEvents
		}
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, core.Wrap(core.KindIO, err)
	}

	l := &Log{cfg: cfg, logger: logger}
	if err := l.openSegment(); err != nil {
		return nil, err
	}
	return l, nil
}

func newSegmentName() (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("segment-%d-%s.log", time.Now().UnixNano(), hex.EncodeToString(suffix)), nil
}

func (l *Log) openSegment() error {
	name, err := newSegmentName()
	if err != nil {
		return core.Wrap(core.KindIO, err)
	}
	f, err := os.OpenFile(filepath.Join(l.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return core.Wrap(core.KindIO, err)
	}
	l.file = f
	l.segmentName = name
	l.segmentBytes = 0
	l.segmentOpened = time.Now()
	return nil
}

// Append writes one event, subject to the backpressure ceiling. The
// return promises only that the record is buffered, not that it has
// reached disk; durability is delivered by the next Rotate or Close.
func (l *Log) Append(e core.Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", core.NewError(core.KindIO, "event log is closed")
	}
	if l.pending >= l.cfg.MaxEvents {
		return "", core.Newf(core.KindBackpressure, "event log at capacity (%d pending)", l.cfg.MaxEvents)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	record, err := json.Marshal(e)
	if err != nil {
		return "", core.Wrap(core.KindValidation, err)
	}
	record = append(record, '\n')

	if l.segmentBytes+int64(len(record)) > l.cfg.MaxBytes {
		if err := l.rotateLocked(); err != nil {
			return "", err
		}
	}

	l.buf = append(l.buf, record)
	l.bufBytes += int64(len(record))
	l.pending++
	l.segmentBytes += int64(len(record))

	if l.flushTimer == nil {
		l.flushTimer = time.AfterFunc(l.cfg.FlushInterval, l.flushOnTimer)
	}

	if len(l.buf) >= l.cfg.FlushBatch {
		if err := l.flushLocked(); err != nil {
			return "", err
		}
	}

	return e.ID, nil
}

func (l *Log) flushOnTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_ = l.flushLocked()
	l.flushTimer = time.AfterFunc(l.cfg.FlushInterval, l.flushOnTimer)
}

// flushLocked writes all buffered records to the active segment file in
// order. Caller must hold mu.
func (l *Log) flushLocked() error {
	if len(l.buf) == 0 {
		return nil
	}
	for _, rec := range l.buf {
		if _, err := l.file.Write(rec); err != nil {
			return core.Wrap(core.KindIO, err)
		}
	}
	l.pending -= len(l.buf)
	l.buf = l.buf[:0]
	l.bufBytes = 0
	return nil
}

// Rotate atomically swaps the active segment. Concurrent calls are
// serialized by the log mutex and each one creates a new segment in
// turn; a call is not skipped because another rotation ran just before.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Log) rotateLocked() error {
	if l.rotating {
		return nil
	}
	l.rotating = true
	defer func() { l.rotating = false }()

	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return core.Wrap(core.KindIO, err)
	}
	if err := l.file.Close(); err != nil {
		return core.Wrap(core.KindIO, err)
	}
	l.rotations++

	if err := l.openSegment(); err != nil {
		return err
	}
	l.logger.Info("event log rotated", "segment", l.segmentName, "rotation_count", l.rotations)
	return nil
}

// MaybeRotateForAge rotates if the active segment has exceeded MaxAge.
// The log runs no age-check timer of its own: a segment rotates for age
// only when a caller invokes this method.
func (l *Log) MaybeRotateForAge() error {
	l.mu.Lock()
	age := time.Since(l.segmentOpened)
	l.mu.Unlock()
	if age < l.cfg.MaxAge {
		return nil
	}
	return l.Rotate()
}

// Close cancels timers, flushes, and closes the active segment with a
// durability barrier.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.flushTimer != nil {
		l.flushTimer.Stop()
	}
	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return core.Wrap(core.KindIO, err)
	}
	return l.file.Close()
}

// Stats returns a point-in-time snapshot for the health/admin surface.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ActiveSegment: l.segmentName,
		SegmentBytes:  l.segmentBytes,
		SegmentAge:    time.Since(l.segmentOpened),
		PendingEvents: l.pending,
		RotationCount: l.rotations,
	}
}
