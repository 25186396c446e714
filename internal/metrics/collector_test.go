package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpThreadFetch, 20*time.Millisecond)
	c.RecordTiming(OpThreadFetch, 40*time.Millisecond)

	snap := c.Snapshot()
	op, ok := snap.Ops[OpThreadFetch]
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count)
	assert.Equal(t, int64(60), op.TotalTimeMs)
	assert.Equal(t, int64(20), op.MinTimeMs)
	assert.Equal(t, int64(40), op.MaxTimeMs)
	assert.InDelta(t, 30.0, op.AvgTimeMs, 0.01)
}

func TestRecordFailure(t *testing.T) {
	c := NewCollector()

	c.RecordFailure(OpAssistantAsk)
	c.RecordFailure(OpAssistantAsk)

	snap := c.Snapshot()
	op := snap.Ops[OpAssistantAsk]
	assert.Equal(t, int64(2), op.Failures)
	assert.Equal(t, int64(0), op.Count)
	assert.Equal(t, int64(0), op.MinTimeMs)
}

func TestSnapshotEmpty(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	assert.Empty(t, snap.Ops)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
