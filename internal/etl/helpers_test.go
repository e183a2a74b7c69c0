package etl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BartekS5/esync/internal/checkpoint"
	"github.com/BartekS5/esync/internal/testutil/fakees"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/spf13/afero"
)

const (
	sourceIndex = "logs"
	targetIndex = "logs-copy"
	field       = "ingestion_time"

	defaultLease = time.Minute
)

// memorySink records dead letters, optionally failing every Send.
type memorySink struct {
	mu      sync.Mutex
	letters []models.DeadLetter
	err     error
}

func (s *memorySink) Send(_ context.Context, letters []models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, letters...)
	return nil
}

func (s *memorySink) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.letters))
	for _, l := range s.letters {
		ids = append(ids, l.ID)
	}
	return ids
}

// harness wires the production reader and writer to a fake cluster, an
// in-memory checkpoint file and a recording dead-letter sink.
type harness struct {
	es     *fakees.Server
	store  *checkpoint.FileStore
	sink   *memorySink
	reader *ScrollReader
	writer *BatchWriter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	es := fakees.New(t, field)
	client := es.Client(t)

	sink := &memorySink{}
	writer := NewBatchWriter(NewElasticTarget(client, targetIndex, ""), sink, targetIndex, 0)
	writer.RunID = "test-run"

	return &harness{
		es:     es,
		store:  &checkpoint.FileStore{Fs: afero.NewMemMapFs(), Path: "checkpoint/" + targetIndex + ".txt"},
		sink:   sink,
		reader: NewScrollReader(client, field),
		writer: writer,
	}
}

func (h *harness) pipeline(pageSize int) *Pipeline {
	return NewPipeline(h.reader, h.writer, h.store, PipelineOptions{
		SourceIndex:   sourceIndex,
		PageSize:      pageSize,
		Lease:         defaultLease,
		MaxAttempts:   3,
		ProgressEvery: 10000,
	})
}

// checkpoint returns the persisted watermark, or -1 when there is none.
func (h *harness) checkpoint(t *testing.T) int64 {
	t.Helper()
	w, ok := h.store.Load(context.Background())
	if !ok {
		return -1
	}
	return int64(w)
}

// loaderFunc adapts a function to Loader so tests can act between commits.
type loaderFunc func(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error)

func (f loaderFunc) Commit(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
	return f(ctx, batch, maxAttempts)
}

// scriptedTarget answers BulkUpsert from a queue of results, succeeding once
// the queue is empty.
type scriptedTarget struct {
	results []error
	calls   int
	sent    []models.Batch
}

func (s *scriptedTarget) BulkUpsert(_ context.Context, docs models.Batch) ([]models.ItemOutcome, error) {
	s.calls++
	s.sent = append(s.sent, docs)
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]models.ItemOutcome, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.ItemOutcome{ID: d.ID, OrderingKey: d.OrderingKey, Status: 201})
	}
	return out, nil
}

var errBoom = errors.New("boom")

func docs(keys ...int64) models.Batch {
	b := make(models.Batch, 0, len(keys))
	for _, k := range keys {
		id := models.Watermark(k).String()
		b = append(b, models.Document{ID: id, OrderingKey: k, Source: []byte(`{"ingestion_time":` + id + `}`)})
	}
	return b
}
