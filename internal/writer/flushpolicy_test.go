package writer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink is a minimal flushableSink for exercising flushPolicy in
// isolation, without any real file I/O.
type fakeSink struct {
	buffered         int
	flushCalls       int
	transitionCalls  []string
	segmentModeCalls int
	flushErr         error
}

func (f *fakeSink) bufferSize() int       { return f.buffered }
func (f *fakeSink) recordSize() int       { return 100 }
func (f *fakeSink) fileExtension() string { return ".csv" }
func (f *fakeSink) performFlush() error {
	f.flushCalls++
	f.buffered = 0
	return f.flushErr
}
func (f *fakeSink) performSegmentTransition(newFilename string) error {
	f.transitionCalls = append(f.transitionCalls, newFilename)
	return nil
}
func (f *fakeSink) onSegmentModeSet() { f.segmentModeCalls++ }

func TestFlushPolicyTimeIntervalTrigger(t *testing.T) {
	p := newFlushPolicy()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	p.setFlushInterval(time.Second)
	p.setMemoryThreshold(0)

	sink := &fakeSink{buffered: 1}
	require.NoError(t, p.checkAndFlush(sink))
	assert.Equal(t, 1, sink.flushCalls, "lastFlush starts zero, so the first check must flush")

	sink.buffered = 1
	require.NoError(t, p.checkAndFlush(sink))
	assert.Equal(t, 1, sink.flushCalls, "within the interval, a second check should not flush")

	now = now.Add(2 * time.Second)
	sink.buffered = 1
	require.NoError(t, p.checkAndFlush(sink))
	assert.Equal(t, 2, sink.flushCalls)
}

func TestFlushPolicyMemoryThresholdTrigger(t *testing.T) {
	p := newFlushPolicy()
	p.setFlushInterval(0)
	p.setMemoryThreshold(150) // recordSize=100, so 2 buffered records exceeds it

	sink := &fakeSink{buffered: 1}
	require.NoError(t, p.checkAndFlush(sink))
	assert.Zero(t, sink.flushCalls)

	sink.buffered = 2
	require.NoError(t, p.checkAndFlush(sink))
	assert.Equal(t, 1, sink.flushCalls)
}

func TestFlushPolicyEmptyBufferNeverFlushes(t *testing.T) {
	p := newFlushPolicy()
	p.setFlushInterval(0)
	p.setMemoryThreshold(0)

	sink := &fakeSink{buffered: 0}
	require.NoError(t, p.checkAndFlush(sink))
	assert.Zero(t, sink.flushCalls)
}

func TestFlushPolicySegmentTransitionAcrossHourBoundary(t *testing.T) {
	p := newFlushPolicy()
	p.setBaseFilename("out.csv")
	now := time.Date(2024, 3, 1, 11, 59, 30, 0, time.UTC)
	p.now = func() time.Time { return now }

	sink := &fakeSink{}
	p.setSegmentMode(SegmentHourly, sink)
	assert.Equal(t, 1, sink.segmentModeCalls)
	assert.Equal(t, "out.20240301_11.csv", p.currentFilename())

	now = now.Add(time.Minute) // 12:00:30 UTC, new hour
	sink.buffered = 1
	require.NoError(t, p.checkAndFlush(sink))

	require.Len(t, sink.transitionCalls, 1)
	assert.Equal(t, "out.20240301_12.csv", sink.transitionCalls[0])
	assert.Equal(t, int64(2), p.segmentCountValue())
}

func TestFlushPolicyDailySegmentKey(t *testing.T) {
	p := newFlushPolicy()
	p.now = func() time.Time { return time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC) }
	p.segmentMode = SegmentDaily
	assert.Equal(t, "20240301", p.segmentKey())
}

func TestFlushPolicyForceFlushSkipsWhenEmpty(t *testing.T) {
	p := newFlushPolicy()
	sink := &fakeSink{}
	require.NoError(t, p.forceFlush(sink))
	assert.Zero(t, sink.flushCalls)

	sink.buffered = 1
	require.NoError(t, p.forceFlush(sink))
	assert.Equal(t, 1, sink.flushCalls)
}

func TestFlushPolicyMarksDegradedAndClearsOnFlushFailure(t *testing.T) {
	p := newFlushPolicy()
	p.setFlushInterval(0)
	p.setMemoryThreshold(0)

	var cleared int
	p.setOnFlush(func() { cleared++ })

	sink := &fakeSink{buffered: 1, flushErr: assert.AnError}
	require.Error(t, p.forceFlush(sink))
	assert.True(t, p.isDegraded())
	assert.Equal(t, 1, cleared, "a failed flush must still release the caller's buffered data")

	assert.Error(t, p.guardWrite(), "a degraded policy must refuse further writes")
}

func TestFlushPolicyGuardWriteAllowsWritesBeforeDegraded(t *testing.T) {
	p := newFlushPolicy()
	assert.NoError(t, p.guardWrite())
}

func TestFlushPolicyOnFlushFiresAfterEachDiskFlush(t *testing.T) {
	p := newFlushPolicy()
	p.setFlushInterval(0)
	p.setMemoryThreshold(0)

	var fired int
	p.setOnFlush(func() { fired++ })

	sink := &fakeSink{buffered: 1}
	require.NoError(t, p.forceFlush(sink))
	assert.Equal(t, 1, fired)

	sink.buffered = 0
	require.NoError(t, p.forceFlush(sink))
	assert.Equal(t, 1, fired, "an empty-buffer flush must not fire the callback")
}

func TestInsertSegmentKey(t *testing.T) {
	assert.Equal(t, "out.20240301.csv", insertSegmentKey("out.csv", "20240301", ".csv"))
	assert.Equal(t, "out.20240301", insertSegmentKey("out", "20240301", ".csv"))
}
