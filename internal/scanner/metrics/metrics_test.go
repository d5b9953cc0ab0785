package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScanMetrics_GetStats(t *testing.T) {
	m := NewScanMetrics()
	ctx := context.Background()

	stats := m.GetStats()
	assert.Equal(t, int64(0), stats["files_scanned"])
	assert.True(t, stats["last_processed"].(time.Time).IsZero())

	m.RecordFileScanned(ctx, 100, time.Millisecond)
	m.RecordFileScanned(ctx, 50, time.Millisecond)
	m.RecordFlagged(ctx)
	m.RecordSkipped(ctx)

	stats = m.GetStats()
	assert.Equal(t, int64(2), stats["files_scanned"])
	assert.Equal(t, int64(1), stats["files_flagged"])
	assert.Equal(t, int64(1), stats["files_skipped"])
	assert.Equal(t, int64(150), stats["hashed_bytes"])
	assert.Equal(t, 2*time.Millisecond, stats["hash_time"])
	assert.False(t, stats["last_processed"].(time.Time).IsZero())
}
