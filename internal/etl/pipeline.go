package etl

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/BartekS5/esync/internal/metrics"
	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/jonboulle/clockwork"
)

type PipelineOptions struct {
	SourceIndex   string
	PageSize      int
	Lease         time.Duration
	MaxAttempts   int
	ProgressEvery int
	DryRun        bool
}

// Result summarises a finished or aborted run.
type Result struct {
	Documents int
	Batches   int
	Failed    int
	Watermark *models.Watermark
	Elapsed   time.Duration
}

// Pipeline drives the extract -> commit -> checkpoint loop on a single
// goroutine. Cancellation is honoured only between batches.
type Pipeline struct {
	Extractor   Extractor
	Loader      Loader
	Checkpoints CheckpointStore
	Metrics     *metrics.Metrics
	Clock       clockwork.Clock
	Options     PipelineOptions
}

func NewPipeline(ext Extractor, loader Loader, checkpoints CheckpointStore, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		Extractor:   ext,
		Loader:      loader,
		Checkpoints: checkpoints,
		Clock:       clockwork.NewRealClock(),
		Options:     opts,
	}
}

// Run migrates until the source is exhausted. A non-nil error means the run
// is fatal; the persisted checkpoint is then the last one a committed batch
// justified and a restart resumes from it.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	clock := p.clock()
	start := clock.Now()
	var res Result

	// Reads and writes are not interrupted mid-flight.
	work := context.WithoutCancel(ctx)

	var lowerBound *models.Watermark
	if w, ok := p.Checkpoints.Load(work); ok {
		lowerBound = &w
		logger.Infof("Existing checkpoint found for %s. Querying from %s.", p.Options.SourceIndex, w)
	} else {
		logger.Infof("No checkpoint found for %s, migrating from the beginning.", p.Options.SourceIndex)
	}
	logger.Infof("Starting pipeline. Page size: %d, Lease: %s, Max attempts: %d, DryRun: %v",
		p.Options.PageSize, p.Options.Lease, p.Options.MaxAttempts, p.Options.DryRun)

	cur, batch, err := p.Extractor.Open(work, p.Options.SourceIndex, lowerBound, p.Options.PageSize, p.Options.Lease)
	defer func() {
		_ = p.Extractor.Close(work, cur)
	}()
	if err != nil {
		logger.Errorf("Extraction failed: %v", err)
		return p.finish(res, start), fmt.Errorf("extraction failed: %w", err)
	}

	// ceiling caps every later checkpoint once a document has been rejected,
	// so a clean batch never moves the watermark past an unresolved failure.
	var ceiling *int64

	for len(batch) > 0 {
		if !p.Options.DryRun {
			batchStart := clock.Now()
			outcome, err := p.Loader.Commit(work, batch, p.Options.MaxAttempts)
			if err != nil {
				p.Metrics.ObserveAttempts(outcome.Attempts)
				logger.Errorf("Commit of %d documents (keys %d..%d) failed: %v", len(batch), batch.MinKey(), batch.MaxKey(), err)
				if outcome.Status == models.Partial {
					// The accepted documents are on the target; record them
					// before giving up.
					var w models.Watermark
					w, ceiling = nextWatermark(batch, outcome, ceiling)
					if serr := p.Checkpoints.Save(work, w); serr != nil {
						logger.Errorf("Failed to persist checkpoint %s: %v", w, serr)
					} else {
						res.Watermark = &w
						p.Metrics.SetWatermark(w)
					}
				}
				return p.finish(res, start), fmt.Errorf("commit failed: %w", err)
			}

			var w models.Watermark
			w, ceiling = nextWatermark(batch, outcome, ceiling)
			if err := p.Checkpoints.Save(work, w); err != nil {
				logger.Errorf("Failed to persist checkpoint %s: %v", w, err)
				return p.finish(res, start), fmt.Errorf("checkpoint failed: %w", err)
			}
			res.Watermark = &w
			res.Failed += len(outcome.Failed())
			p.Metrics.ObserveBatch(outcome, len(batch), clock.Since(batchStart))
			p.Metrics.SetWatermark(w)
		} else {
			logger.Infof("[DRY RUN] Would load %d records (keys %d..%d)", len(batch), batch.MinKey(), batch.MaxKey())
		}

		before := res.Documents
		res.Documents += len(batch)
		res.Batches++
		if p.shouldReport(before, res.Documents, res.Batches) {
			p.report(res, start)
		}

		if err := ctx.Err(); err != nil {
			logger.Warnf("Migration interrupted after %d documents: %v", res.Documents, err)
			return p.finish(res, start), fmt.Errorf("migration interrupted: %w", err)
		}

		next, nextBatch, err := p.Extractor.Advance(work, cur)
		if err != nil {
			logger.Errorf("Extraction failed after %d documents: %v", res.Documents, err)
			return p.finish(res, start), fmt.Errorf("extraction failed: %w", err)
		}
		if next != nil {
			cur = next
		}
		batch = nextBatch
	}

	res = p.finish(res, start)
	p.report(res, start)
	if res.Failed > 0 {
		logger.Warnf("Migration completed with %d rejected documents; they will be retried from the checkpoint on the next run.", res.Failed)
	} else {
		logger.Info("Migration completed!")
	}
	return res, nil
}

// nextWatermark returns the checkpoint for a committed batch: its highest key,
// held below the lowest key rejected so far in the run. The returned ceiling
// replaces the one passed in.
func nextWatermark(batch models.Batch, outcome models.BulkOutcome, ceiling *int64) (models.Watermark, *int64) {
	if low, ok := outcome.LowestFailedKey(); ok {
		below := low - 1
		if low == math.MinInt64 {
			below = math.MinInt64
		}
		if ceiling == nil || below < *ceiling {
			ceiling = &below
		}
	}
	candidate := batch.MaxKey()
	if ceiling != nil && candidate > *ceiling {
		candidate = *ceiling
	}
	return models.Watermark(candidate), ceiling
}

// shouldReport fires on the first batch and whenever the running total
// crosses a multiple of ProgressEvery.
func (p *Pipeline) shouldReport(before, after, batches int) bool {
	if batches == 1 {
		return true
	}
	every := p.Options.ProgressEvery
	if every <= 0 {
		return true
	}
	return before/every != after/every
}

func (p *Pipeline) report(res Result, start time.Time) {
	logger.Infof("Documents: %d | Time: %.3f", res.Documents, p.clock().Since(start).Seconds())
}

func (p *Pipeline) finish(res Result, start time.Time) Result {
	res.Elapsed = p.clock().Since(start)
	return res
}

func (p *Pipeline) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}
