package etl

import (
	"context"
	"time"

	"github.com/BartekS5/esync/pkg/models"
)

// Extractor pages through the source in ascending ordering-key order.
type Extractor interface {
	Open(ctx context.Context, index string, lowerBound *models.Watermark, pageSize int, lease time.Duration) (*Cursor, models.Batch, error)
	Advance(ctx context.Context, cur *Cursor) (*Cursor, models.Batch, error)
	Close(ctx context.Context, cur *Cursor) error
}

// Loader commits a batch to the target.
type Loader interface {
	Commit(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error)
}

// BulkTarget performs a single bulk upsert. Errors are *TransientError or
// *FatalBackendError; per-document rejections are reported in the outcomes.
type BulkTarget interface {
	BulkUpsert(ctx context.Context, docs models.Batch) ([]models.ItemOutcome, error)
}

// CheckpointStore persists the watermark. Load never fails: an unreadable
// checkpoint is reported as absent.
type CheckpointStore interface {
	Load(ctx context.Context) (models.Watermark, bool)
	Save(ctx context.Context, w models.Watermark) error
}

// DeadLetterSink receives documents rejected by the target.
type DeadLetterSink interface {
	Send(ctx context.Context, letters []models.DeadLetter) error
}
