package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"sigscan/internal/scanner/metrics"
	"sigscan/internal/signature"
	"sigscan/internal/util/logger/sl"
	"sigscan/internal/walker"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Walker produces the files to scan.
type Walker interface {
	Walk(ctx context.Context, root string) (<-chan walker.Entry, error)
	Profile(ctx context.Context, root string) (walker.Totals, error)
}

type Config struct {
	Workers int
	// Ignored lists catalog fingerprints known to be false positives.
	Ignored    []signature.Fingerprint
	EarlyStop  bool
	CountFirst bool
	Observer   Observer
	Metrics    *metrics.ScanMetrics
}

type Scanner struct {
	walker  Walker
	hasher  signature.FileHasher
	store   signature.Lookup
	cfg     Config
	ignored map[string]struct{}
	logger  *slog.Logger
}

func New(w Walker, hasher signature.FileHasher, store signature.Lookup, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewScanMetrics()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	ignored := make(map[string]struct{}, len(cfg.Ignored))
	for _, fp := range cfg.Ignored {
		ignored[string(fp)] = struct{}{}
	}

	return &Scanner{
		walker:  w,
		hasher:  hasher,
		store:   store,
		cfg:     cfg,
		ignored: ignored,
		logger:  logger,
	}
}

func (s *Scanner) Metrics() *metrics.ScanMetrics {
	return s.cfg.Metrics
}

// collector accumulates results from concurrent workers.
type collector struct {
	mu     sync.Mutex
	report *Report
}

func (c *collector) scanned(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.report.FilesScanned++
	c.report.BytesScanned += r.Size
	switch {
	case r.Flagged:
		c.report.FlaggedCount++
		c.report.Flagged = append(c.report.Flagged, r)
	case r.Ignored:
		c.report.IgnoredCount++
	}
}

func (c *collector) skipped(sk Skipped) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Skipped = append(c.report.Skipped, sk)
}

// Scan hashes every regular file under root and checks it against the
// catalog. Per-file failures are recorded in the report; a failing
// catalog lookup aborts the run. A cancelled run returns the partial
// report along with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, root string) (*Report, error) {
	const op = "scanner.Scan"
	log := s.logger.With(slog.String("op", op), slog.String("root", root))

	report := &Report{
		ID:        uuid.New().String(),
		Root:      root,
		StartedAt: time.Now(),
	}

	if s.cfg.CountFirst {
		totals, err := s.walker.Profile(ctx, root)
		if err != nil {
			if ctx.Err() == nil {
				return nil, err
			}
			report.Cancelled = true
			report.FinishedAt = time.Now()
			return report, ctx.Err()
		}
		report.Totals = totals
	}

	scanCtx, stop := context.WithCancel(ctx)
	defer stop()

	entries, err := s.walker.Walk(scanCtx, root)
	if err != nil {
		return nil, err
	}

	log.Info("scan started", slog.String("id", report.ID), slog.Int("workers", s.cfg.Workers))
	s.cfg.Observer.OnScanStarted(report.Totals)

	var (
		c        = &collector{report: report}
		stopOnce sync.Once
	)

	g, gctx := errgroup.WithContext(scanCtx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for entry := range entries {
				if gctx.Err() != nil {
					return nil
				}

				flagged, err := s.scanEntry(gctx, c, entry)
				if err != nil {
					return err
				}
				if flagged && s.cfg.EarlyStop {
					stopOnce.Do(func() {
						c.mu.Lock()
						report.StoppedEarly = true
						c.mu.Unlock()
						stop()
					})
					return nil
				}
			}
			return nil
		})
	}

	runErr := g.Wait()
	stop()

	report.FinishedAt = time.Now()
	sortReport(report)

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
		report.Cancelled = true
	}

	s.cfg.Observer.OnScanFinished(report)

	if runErr != nil {
		log.Error("scan aborted", sl.Err(runErr),
			slog.Int("scanned", report.FilesScanned),
			slog.Int("flagged", report.FlaggedCount),
		)
		return report, runErr
	}

	log.Info("scan finished",
		slog.String("id", report.ID),
		slog.Int("scanned", report.FilesScanned),
		slog.Int("flagged", report.FlaggedCount),
		slog.Int("skipped", len(report.Skipped)),
		slog.Bool("stopped_early", report.StoppedEarly),
		slog.Duration("took", report.Duration()),
	)
	return report, nil
}

// scanEntry classifies one walker entry. Only store failures are returned.
func (s *Scanner) scanEntry(ctx context.Context, c *collector, entry walker.Entry) (bool, error) {
	if entry.Err != nil {
		s.skip(ctx, c, Skipped{Path: entry.Path, Err: entry.Err})
		return false, nil
	}

	began := time.Now()
	fp, err := s.hasher.HashFile(entry.Path)
	if err != nil {
		s.skip(ctx, c, Skipped{Path: entry.Path, Err: err})
		return false, nil
	}

	result := Result{Path: entry.Path, Fingerprint: fp, Size: entry.Size}

	// empty files have no fingerprint and are clean without a lookup
	if !fp.IsEmpty() {
		found, err := s.store.Exists(fp)
		if err != nil {
			return false, fmt.Errorf("failed to look up %s (%s): %w", entry.Path, fp, err)
		}
		if found {
			if _, ok := s.ignored[string(fp)]; ok {
				result.Ignored = true
			} else {
				result.Flagged = true
			}
		}
	}

	s.cfg.Metrics.RecordFileScanned(ctx, entry.Size, time.Since(began))
	c.scanned(result)
	s.cfg.Observer.OnFileScanned(result)

	if result.Flagged {
		s.cfg.Metrics.RecordFlagged(ctx)
		s.logger.Warn("flagged file", slog.String("path", result.Path), slog.String("fingerprint", fp.String()))
		s.cfg.Observer.OnFileFlagged(result)
	}
	return result.Flagged, nil
}

func (s *Scanner) skip(ctx context.Context, c *collector, sk Skipped) {
	s.cfg.Metrics.RecordSkipped(ctx)
	s.logger.Debug("skipped file", slog.String("path", sk.Path), sl.Err(sk.Err))
	c.skipped(sk)
	s.cfg.Observer.OnFileSkipped(sk)
}

func sortReport(r *Report) {
	sort.Slice(r.Flagged, func(i, j int) bool { return r.Flagged[i].Path < r.Flagged[j].Path })
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].Path < r.Skipped[j].Path })
}
