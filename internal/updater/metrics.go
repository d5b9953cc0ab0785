package updater

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type syncMetrics struct {
	batches metric.Int64Counter
	records metric.Int64Counter
	retries metric.Int64Counter
}

func newSyncMetrics() syncMetrics {
	meter := otel.Meter("sigscan/updater")
	batches, _ := meter.Int64Counter("sigscan_updater_batches_total",
		metric.WithDescription("batches committed to the signature store"))
	records, _ := meter.Int64Counter("sigscan_updater_records_total",
		metric.WithDescription("fingerprints inserted into the signature store"))
	retries, _ := meter.Int64Counter("sigscan_updater_fetch_retries_total",
		metric.WithDescription("batch fetch attempts that were retried"))
	return syncMetrics{batches: batches, records: records, retries: retries}
}
