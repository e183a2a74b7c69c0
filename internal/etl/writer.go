package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// BatchWriter commits batches through a BulkTarget, retrying transient
// failures with a fixed backoff and routing rejected documents to the
// dead-letter sink.
type BatchWriter struct {
	Target      BulkTarget
	DeadLetters DeadLetterSink
	Validator   *Validator
	Backoff     time.Duration
	Index       string
	RunID       string
	Clock       clockwork.Clock
}

func NewBatchWriter(target BulkTarget, deadLetters DeadLetterSink, index string, retryBackoff time.Duration) *BatchWriter {
	return &BatchWriter{
		Target:      target,
		DeadLetters: deadLetters,
		Validator:   NewValidator(),
		Backoff:     retryBackoff,
		Index:       index,
		Clock:       clockwork.NewRealClock(),
	}
}

// Commit performs at most maxAttempts bulk calls. It returns an error for
// exhausted retries (ErrRetryExhausted), non-retryable backend responses
// (ErrFatalBackend) and dead-letter failures; a partial outcome without
// error means the rejected documents were reported.
//
// A commit in flight is not cancellable; ctx only carries values.
func (w *BatchWriter) Commit(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var outcome models.BulkOutcome
	var rejected []models.ItemOutcome
	send := make(models.Batch, 0, len(batch))
	for _, doc := range batch {
		if err := w.validator().ValidateDocument(doc); err != nil {
			rejected = append(rejected, models.ItemOutcome{ID: doc.ID, OrderingKey: doc.OrderingKey, Reason: err.Error(), Failed: true})
			continue
		}
		send = append(send, doc)
	}

	var items []models.ItemOutcome
	if len(send) > 0 {
		policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(w.Backoff), uint64(maxAttempts-1))
		err := backoff.RetryNotifyWithTimer(func() error {
			outcome.Attempts++
			res, err := w.Target.BulkUpsert(ctx, send)
			if err != nil {
				var transient *TransientError
				if errors.As(err, &transient) {
					return err
				}
				return backoff.Permanent(err)
			}
			items = res
			return nil
		}, policy, func(err error, wait time.Duration) {
			logger.Warnf("# Retries: %d # bulk write of %d documents failed, retrying in %s: %v",
				maxAttempts-outcome.Attempts, len(send), wait, err)
		}, &clockTimer{clock: w.clock()})
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				outcome.Status = models.RetryExhausted
				return outcome, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, outcome.Attempts, err)
			}
			outcome.Status = models.Fatal
			return outcome, fmt.Errorf("bulk write rejected: %w", err)
		}
	}

	outcome.Items = append(items, rejected...)
	failed := outcome.Failed()
	if len(failed) == 0 {
		outcome.Status = models.Committed
		return outcome, nil
	}

	outcome.Status = models.Partial
	if err := w.deadLetter(ctx, batch, failed); err != nil {
		return outcome, fmt.Errorf("failed to report %d rejected documents: %w", len(failed), err)
	}
	logger.Warnf("%d of %d documents rejected by %s and sent to the dead-letter sink", len(failed), len(batch), w.Index)
	return outcome, nil
}

func (w *BatchWriter) deadLetter(ctx context.Context, batch models.Batch, failed []models.ItemOutcome) error {
	if w.DeadLetters == nil {
		return errors.New("no dead-letter sink configured")
	}
	sources := make(map[string]models.Document, len(batch))
	for _, doc := range batch {
		sources[doc.ID] = doc
	}

	now := w.clock().Now().UTC()
	letters := make([]models.DeadLetter, 0, len(failed))
	for _, f := range failed {
		letters = append(letters, models.DeadLetter{
			RunID:       w.RunID,
			Index:       w.Index,
			ID:          f.ID,
			OrderingKey: f.OrderingKey,
			Status:      f.Status,
			Reason:      f.Reason,
			FailedAt:    now,
			Source:      sources[f.ID].Source,
		})
	}
	return w.DeadLetters.Send(ctx, letters)
}

// clockTimer drives backoff waits from the writer's clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}

func (w *BatchWriter) validator() *Validator {
	if w.Validator == nil {
		return NewValidator()
	}
	return w.Validator
}

func (w *BatchWriter) clock() clockwork.Clock {
	if w.Clock == nil {
		return clockwork.NewRealClock()
	}
	return w.Clock
}
