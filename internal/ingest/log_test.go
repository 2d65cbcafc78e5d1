package ingest

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdeskio/activity-gateway/internal/core"
)

func newTestLog(t *testing.T, cfg Config) *Log {
	t.Helper()
	dir := t.TempDir()
	cfg.Dir = dir
	l, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppend_AssignsIDAndTimestampWhenMissing(t *testing.T) {
	l := newTestLog(t, Config{FlushBatch: 1})

	id, err := l.Append(core.Event{Activity: "test.event"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestAppend_RejectsAtBackpressureCeiling(t *testing.T) {
	l := newTestLog(t, Config{MaxEvents: 2, FlushBatch: 1000, FlushInterval: time.Hour})

	_, err := l.Append(core.Event{Activity: "a"})
	require.NoError(t, err)
	_, err = l.Append(core.Event{Activity: "b"})
	require.NoError(t, err)

	_, err = l.Append(core.Event{Activity: "c"})
	require.Error(t, err)
	assert.Equal(t, core.KindBackpressure, core.KindOf(err))
}

func TestRotate_DurabilityBarrierPersistsToDisk(t *testing.T) {
	l := newTestLog(t, Config{FlushBatch: 1000, FlushInterval: time.Hour})

	_, err := l.Append(core.Event{Activity: "durable.event"})
	require.NoError(t, err)

	before := l.Stats()
	require.NoError(t, l.Rotate())

	info, err := os.Stat(l.cfg.Dir + "/" + before.ActiveSegment)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRotate_ConcurrentCallReturnsWithoutNewSegment(t *testing.T) {
	l := newTestLog(t, Config{})

	l.mu.Lock()
	l.rotating = true
	l.mu.Unlock()

	before := l.Stats().ActiveSegment
	require.NoError(t, l.Rotate())
	after := l.Stats().ActiveSegment

	assert.Equal(t, before, after)
}

func TestAppend_RotatesWhenSegmentWouldExceedMaxBytes(t *testing.T) {
	l := newTestLog(t, Config{MaxBytes: 1, FlushBatch: 1000, FlushInterval: time.Hour})

	_, err := l.Append(core.Event{Activity: "a"})
	require.NoError(t, err)
	firstSegment := l.Stats().ActiveSegment

	_, err = l.Append(core.Event{Activity: "b"})
	require.NoError(t, err)
	secondSegment := l.Stats().ActiveSegment

	assert.NotEqual(t, firstSegment, secondSegment)
}

func TestClose_FlushesAndSyncsBeforeClosing(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Config{Dir: dir, FlushBatch: 1000, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)

	_, err = l.Append(core.Event{Activity: "final.event"})
	require.NoError(t, err)

	segment := l.Stats().ActiveSegment
	require.NoError(t, l.Close())

	info, err := os.Stat(dir + "/" + segment)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	_, err = l.Append(core.Event{Activity: "after.close"})
	assert.Error(t, err)
}

func TestMaybeRotateForAge_RotatesOnceSegmentIsOldEnough(t *testing.T) {
	l := newTestLog(t, Config{MaxAge: time.Millisecond})
	before := l.Stats().ActiveSegment

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, l.MaybeRotateForAge())

	after := l.Stats().ActiveSegment
	assert.NotEqual(t, before, after)
}
