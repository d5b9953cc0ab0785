package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ScanMetrics counts scanner activity over the lifetime of a Scanner.
// Counters are mirrored to the global OpenTelemetry meter.
type ScanMetrics struct {
	filesScanned  int64
	filesFlagged  int64
	filesSkipped  int64
	hashedBytes   int64
	hashNanos     int64
	lastProcessed atomic.Int64

	scanned metric.Int64Counter
	flagged metric.Int64Counter
	skipped metric.Int64Counter
	bytes   metric.Int64Counter
}

func NewScanMetrics() *ScanMetrics {
	meter := otel.Meter("sigscan/scanner")

	m := &ScanMetrics{}
	m.scanned, _ = meter.Int64Counter("sigscan_scanner_files_scanned_total")
	m.flagged, _ = meter.Int64Counter("sigscan_scanner_files_flagged_total")
	m.skipped, _ = meter.Int64Counter("sigscan_scanner_files_skipped_total")
	m.bytes, _ = meter.Int64Counter("sigscan_scanner_hashed_bytes_total", metric.WithUnit("By"))
	return m
}

func (m *ScanMetrics) RecordFileScanned(ctx context.Context, size int64, took time.Duration) {
	atomic.AddInt64(&m.filesScanned, 1)
	atomic.AddInt64(&m.hashedBytes, size)
	atomic.AddInt64(&m.hashNanos, int64(took))
	m.lastProcessed.Store(time.Now().UnixNano())

	m.scanned.Add(ctx, 1)
	m.bytes.Add(ctx, size)
}

func (m *ScanMetrics) RecordFlagged(ctx context.Context) {
	atomic.AddInt64(&m.filesFlagged, 1)
	m.flagged.Add(ctx, 1)
}

func (m *ScanMetrics) RecordSkipped(ctx context.Context) {
	atomic.AddInt64(&m.filesSkipped, 1)
	m.skipped.Add(ctx, 1)
}

func (m *ScanMetrics) GetStats() map[string]interface{} {
	var last time.Time
	if ns := m.lastProcessed.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return map[string]interface{}{
		"files_scanned":  atomic.LoadInt64(&m.filesScanned),
		"files_flagged":  atomic.LoadInt64(&m.filesFlagged),
		"files_skipped":  atomic.LoadInt64(&m.filesSkipped),
		"hashed_bytes":   atomic.LoadInt64(&m.hashedBytes),
		"hash_time":      time.Duration(atomic.LoadInt64(&m.hashNanos)),
		"last_processed": last,
	}
}
