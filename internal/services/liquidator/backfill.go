package liquidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// BackfillReport summarizes a startup backfill.
type BackfillReport struct {
	From, To      uint64
	Ranges        int
	SkippedRanges int
	Added         int
	Degraded      bool
}

// Backfiller populates the registry from recent history and from each new block.
type Backfiller struct {
	ledger   outbound.LedgerClient
	registry *CandidateRegistry
	window   uint64
	chunk    uint64
	delay    time.Duration
	fallback []entity.AccountID
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger
}

// NewBackfiller creates a Backfiller. cfg must already have defaults applied.
func NewBackfiller(cfg Config, ledger outbound.LedgerClient, registry *CandidateRegistry) (*Backfiller, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	cfg.applyDefaults()
	return &Backfiller{
		ledger:   ledger,
		registry: registry,
		window:   cfg.BackfillWindow,
		chunk:    cfg.BackfillChunk,
		delay:    cfg.BackfillDelay,
		fallback: cfg.FallbackAccounts,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "backfill"),
	}, nil
}

// subRanges splits the trailing window ending at head into inclusive chunks.
func (b *Backfiller) subRanges(head uint64) [][2]uint64 {
	var from uint64
	if head+1 > b.window {
		from = head + 1 - b.window
	}
	var ranges [][2]uint64
	for start := from; start <= head; start += b.chunk {
		end := start + b.chunk - 1
		if end > head {
			end = head
		}
		ranges = append(ranges, [2]uint64{start, end})
		if end == head {
			break
		}
	}
	return ranges
}

// Run scans the trailing window ending at head. A sub-range that fails is
// logged once and skipped; the scan always continues. If the registry is
// still empty afterwards the fallback accounts are seeded.
func (b *Backfiller) Run(ctx context.Context, head uint64) (BackfillReport, error) {
	ranges := b.subRanges(head)
	report := BackfillReport{Ranges: len(ranges), To: head}
	if len(ranges) > 0 {
		report.From = ranges[0][0]
	}

	b.logger.Info("backfill started", "from", report.From, "to", head, "ranges", len(ranges))

	for i, r := range ranges {
		if i > 0 {
			if err := retry.Sleep(ctx, b.delay); err != nil {
				return report, err
			}
		}

		records, err := b.fetchRange(ctx, r[0], r[1])
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.SkippedRanges++
			b.logger.Warn("skipping backfill range",
				"from", r[0], "to", r[1],
				"kind", entity.ErrorKind(err),
				"error", err)
			if b.metrics != nil {
				b.metrics.RecordSkippedRange(ctx, "backfill")
			}
			continue
		}
		report.Added += b.registry.Ingest(records)
	}

	if b.registry.Len() == 0 {
		report.Degraded = true
		report.Added += b.SeedFallback()
	}

	b.logger.Info("backfill completed",
		"candidates", b.registry.Len(),
		"added", report.Added,
		"skippedRanges", report.SkippedRanges,
		"degraded", report.Degraded)
	return report, nil
}

// SeedFallback adds the fallback accounts and logs the degraded mode.
func (b *Backfiller) SeedFallback() int {
	added := b.registry.Add(b.fallback...)
	b.logger.Warn("no candidates discovered, running in degraded mode with fallback accounts",
		"fallback", len(b.fallback), "added", added)
	return added
}

// HasFallback reports whether fallback accounts are configured.
func (b *Backfiller) HasFallback() bool {
	return len(b.fallback) > 0
}

// IngestBlock scans exactly one block for candidate events.
func (b *Backfiller) IngestBlock(ctx context.Context, block uint64) (int, error) {
	records, err := b.fetchRange(ctx, block, block)
	if err != nil {
		return 0, err
	}
	return b.registry.Ingest(records), nil
}

// fetchRange fetches every candidate event kind for [from, to]. The range is
// all-or-nothing: if any kind fails nothing from it is returned.
func (b *Backfiller) fetchRange(ctx context.Context, from, to uint64) ([]entity.EventRecord, error) {
	var all []entity.EventRecord
	var errs []error
	for _, kind := range entity.CandidateEventKinds {
		records, err := b.ledger.FetchEvents(ctx, kind, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s [%d,%d]: %w", kind, from, to, err))
			continue
		}
		all = append(all, records...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}
