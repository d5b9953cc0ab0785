package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"sigscan/internal/signature"
	"sigscan/internal/util/logger/sl"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers         = 4
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Store is the part of the signature store the synchronizer writes to.
type Store interface {
	LatestBatch() (signature.BatchID, bool, error)
	CommitBatch(batch *signature.Batch) (signature.InsertResult, error)
}

// Observer receives a notification after each committed batch.
type Observer interface {
	OnBatchCommitted(info signature.BatchInfo)
}

type ObserverFunc func(info signature.BatchInfo)

func (f ObserverFunc) OnBatchCommitted(info signature.BatchInfo) { f(info) }

type Config struct {
	Workers int
	// Window bounds batches that are in flight or waiting to be committed.
	Window     int
	MaxBatches int
	MaxRetries int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	Observer Observer
}

// Report summarizes one Sync run.
type Report struct {
	Start        signature.BatchID
	Batches      int
	Inserted     int
	Duplicates   int
	Rejected     int
	Watermark    signature.BatchID
	HasWatermark bool
	EndOfCatalog bool
	Duration     time.Duration
}

// Synchronizer brings the local store up to date with the remote catalog.
type Synchronizer struct {
	store   Store
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
	metrics syncMetrics
}

func New(store Store, fetcher Fetcher, cfg Config, logger *slog.Logger) *Synchronizer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Window < cfg.Workers {
		cfg.Window = cfg.Workers * 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	return &Synchronizer{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		metrics: newSyncMetrics(),
	}
}

// nextIndex returns the first batch that is not in the store yet.
func (s *Synchronizer) nextIndex() (signature.BatchID, error) {
	latest, ok, err := s.store.LatestBatch()
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if latest == math.MaxUint32 {
		return 0, fmt.Errorf("%w: watermark at maximum batch index", signature.ErrIntegrity)
	}
	return latest + 1, nil
}

// Pending reports whether the remote catalog has a batch past the watermark.
func (s *Synchronizer) Pending(ctx context.Context) (bool, error) {
	next, err := s.nextIndex()
	if err != nil {
		return false, err
	}
	return s.fetcher.Probe(ctx, next)
}

type fetchResult struct {
	index signature.BatchID
	batch *signature.Batch
	err   error
}

// Sync fetches batches past the watermark with a bounded pool of workers
// and commits them strictly in index order. A missing batch ends the
// catalog and the run succeeds. Any other failure at index k stops the run
// after batches below k have been committed.
func (s *Synchronizer) Sync(ctx context.Context) (Report, error) {
	const op = "updater.Sync"
	log := s.logger.With(slog.String("op", op))
	began := time.Now()

	start, err := s.nextIndex()
	if err != nil {
		return Report{}, err
	}

	report := Report{Start: start}
	if latest, ok, err := s.store.LatestBatch(); err == nil && ok {
		report.Watermark, report.HasWatermark = latest, true
	}

	// stopAt is the lowest index known to end the run
	var stopAt atomic.Uint64
	stopAt.Store(math.MaxUint32 + 1)
	if s.cfg.MaxBatches > 0 {
		stopAt.Store(uint64(start) + uint64(s.cfg.MaxBatches))
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	indices := make(chan signature.BatchID)
	results := make(chan fetchResult, s.cfg.Window)
	slots := make(chan struct{}, s.cfg.Window)
	// primed is closed once the first batch is committed; until then only
	// the start index is requested, so an up-to-date catalog costs one 404
	primed := make(chan struct{})

	g, gctx := errgroup.WithContext(fetchCtx)

	g.Go(func() error {
		defer close(indices)
		for idx := uint64(start); idx < stopAt.Load(); idx++ {
			if idx == uint64(start)+1 {
				select {
				case <-primed:
				case <-gctx.Done():
					return nil
				}
			}
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			if idx >= stopAt.Load() {
				<-slots
				return nil
			}
			select {
			case indices <- signature.BatchID(idx):
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for idx := range indices {
				batch, err := s.fetch(gctx, idx)
				select {
				case results <- fetchResult{index: idx, batch: batch, err: err}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	log.Info("sync started", slog.Int("start", int(start)), slog.Int("workers", s.cfg.Workers))

	var (
		runErr  error
		next    = uint64(start)
		pending = make(map[uint64]fetchResult)
	)

	lower := func(idx uint64) {
		if idx < stopAt.Load() {
			stopAt.Store(idx)
		}
	}

consume:
	for next < stopAt.Load() {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res, ok := pending[next]
		if !ok {
			r, open := <-results
			if !open {
				if err := ctx.Err(); err != nil {
					runErr = err
				}
				break consume
			}
			idx := uint64(r.index)
			switch {
			case idx >= stopAt.Load():
				<-slots
			case errors.Is(r.err, signature.ErrEndOfCatalog):
				lower(idx)
				runErr = nil
				report.EndOfCatalog = true
				<-slots
			case r.err != nil:
				lower(idx)
				runErr = fmt.Errorf("batch %d: %w", idx, r.err)
				report.EndOfCatalog = false
				<-slots
			default:
				pending[idx] = r
			}
			continue
		}

		delete(pending, next)
		<-slots

		result, err := s.store.CommitBatch(res.batch)
		if err != nil {
			runErr = fmt.Errorf("failed to commit batch %d: %w", next, err)
			report.EndOfCatalog = false
			break consume
		}
		s.committed(ctx, &report, res.batch, result)
		if next == uint64(start) {
			close(primed)
		}
		next++
	}

	cancel()
	for range results {
	}

	report.Duration = time.Since(began)

	if runErr != nil {
		log.Error("sync stopped", sl.Err(runErr),
			slog.Int("batches", report.Batches),
			slog.Int("inserted", report.Inserted),
		)
		return report, runErr
	}

	log.Info("sync finished",
		slog.Int("batches", report.Batches),
		slog.Int("inserted", report.Inserted),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("rejected", report.Rejected),
		slog.Bool("end_of_catalog", report.EndOfCatalog),
		slog.Duration("took", report.Duration),
	)
	return report, nil
}

func (s *Synchronizer) committed(ctx context.Context, report *Report, batch *signature.Batch, result signature.InsertResult) {
	info := signature.BatchInfo{
		Index:      batch.Index,
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
		Rejected:   len(result.Rejected) + batch.Malformed,
		Provenance: batch.Provenance,
		IngestedAt: time.Now().UTC(),
	}

	report.Batches++
	report.Inserted += info.Inserted
	report.Duplicates += info.Duplicates
	report.Rejected += info.Rejected
	report.Watermark, report.HasWatermark = batch.Index, true

	s.metrics.batches.Add(ctx, 1)
	s.metrics.records.Add(ctx, int64(info.Inserted))

	s.logger.Debug("batch committed",
		slog.Int("batch", int(info.Index)),
		slog.Int("inserted", info.Inserted),
		slog.String("provenance", info.Provenance),
	)

	if s.cfg.Observer != nil {
		s.cfg.Observer.OnBatchCommitted(info)
	}
}

// fetch retries transient failures with exponential backoff.
func (s *Synchronizer) fetch(ctx context.Context, idx signature.BatchID) (*signature.Batch, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialInterval
	eb.MaxInterval = s.cfg.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.MaxRetries)), ctx)

	operation := func() (*signature.Batch, error) {
		batch, err := s.fetcher.Fetch(ctx, idx)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return batch, err
	}

	notify := func(err error, wait time.Duration) {
		s.metrics.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("batch", int(idx))))
		s.logger.Warn("fetch failed, retrying",
			slog.Int("batch", int(idx)),
			slog.Duration("wait", wait),
			sl.Err(err),
		)
	}

	return backoff.RetryNotifyWithData(operation, policy, notify)
}
