package etl

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/BartekS5/esync/internal/checkpoint"
	"github.com/BartekS5/esync/internal/metrics"
	"github.com/BartekS5/esync/internal/testutil/fakees"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineCleanRun(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)

	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, res.Documents)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 0, res.Failed)
	require.NotNil(t, res.Watermark)
	assert.Equal(t, models.Watermark(25), *res.Watermark)
	assert.Equal(t, int64(25), h.checkpoint(t))
	assert.Equal(t, 3, h.es.BulkCalls())
	assert.Len(t, h.es.Docs(targetIndex), 25)
	assert.Equal(t, 0, h.es.OpenScrolls())

	data, err := afero.ReadFile(h.store.Fs, h.store.Path)
	require.NoError(t, err)
	assert.Equal(t, "25", string(data))
}

func TestPipelineEmptySource(t *testing.T) {
	h := newHarness(t)
	h.es.Seed(sourceIndex, map[string]string{})

	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Documents)
	assert.Nil(t, res.Watermark)
	assert.Equal(t, int64(-1), h.checkpoint(t))
	assert.Equal(t, 0, h.es.BulkCalls())
}

func TestPipelineResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)
	require.NoError(t, h.store.Save(context.Background(), 15))

	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)

	bounds := h.es.LowerBounds()
	require.Len(t, bounds, 1)
	require.NotNil(t, bounds[0])
	assert.Equal(t, int64(15), *bounds[0])

	assert.Equal(t, 11, res.Documents)
	stored := h.es.Docs(targetIndex)
	assert.Len(t, stored, 11)
	assert.Contains(t, stored, "15")
	assert.NotContains(t, stored, "14")
	assert.Equal(t, int64(25), h.checkpoint(t))
}

func TestPipelineRerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)

	_, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)
	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)

	// The boundary document is delivered again and overwritten in place.
	assert.Equal(t, 1, res.Documents)
	assert.Len(t, h.es.Docs(targetIndex), 25)
	assert.Equal(t, int64(25), h.checkpoint(t))
}

func TestPipelineUnreadableCheckpointStartsOver(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 5)
	require.NoError(t, afero.WriteFile(h.store.Fs, h.store.Path, []byte("garbage"), 0o644))

	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Documents)
	assert.Nil(t, h.es.LowerBounds()[0])
	assert.Equal(t, int64(5), h.checkpoint(t))
}

func TestPipelinePartialFailureHoldsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 10, 12)
	h.es.Reject("11", "failed to parse")

	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(10), h.checkpoint(t))
	assert.Equal(t, []string{"11"}, h.sink.IDs())

	stored := h.es.Docs(targetIndex)
	assert.Contains(t, stored, "10")
	assert.Contains(t, stored, "12")
	assert.NotContains(t, stored, "11")
}

func TestPipelinePartialFailureWithSinkErrorStillCheckpoints(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 10, 12)
	h.es.Reject("11", "failed to parse")
	h.sink.err = errBoom

	res, err := h.pipeline(10).Run(context.Background())
	require.ErrorIs(t, err, errBoom)
	require.NotNil(t, res.Watermark)
	assert.Equal(t, models.Watermark(10), *res.Watermark)
	assert.Equal(t, int64(10), h.checkpoint(t))
	assert.Len(t, h.es.Docs(targetIndex), 2)
}

func TestPipelineFailureOnMinimumKey(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 3)

	p := h.pipeline(10)
	p.Loader = loaderFunc(func(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
		return models.BulkOutcome{
			Status:   models.Partial,
			Attempts: 1,
			Items:    []models.ItemOutcome{{ID: "x", OrderingKey: math.MinInt64, Failed: true}},
		}, nil
	})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), h.checkpoint(t))
}

func TestNextWatermark(t *testing.T) {
	failing := func(keys ...int64) models.BulkOutcome {
		var items []models.ItemOutcome
		for _, k := range keys {
			items = append(items, models.ItemOutcome{OrderingKey: k, Failed: true})
		}
		return models.BulkOutcome{Items: items}
	}
	ptr := func(v int64) *int64 { return &v }

	tests := []struct {
		name        string
		outcome     models.BulkOutcome
		ceiling     *int64
		want        models.Watermark
		wantCeiling *int64
	}{
		{name: "clean batch", outcome: failing(), want: 12},
		{name: "rejection holds below it", outcome: failing(11), want: 10, wantCeiling: ptr(10)},
		{name: "earlier ceiling wins", outcome: failing(11), ceiling: ptr(5), want: 5, wantCeiling: ptr(5)},
		{name: "lower rejection lowers ceiling", outcome: failing(12, 11), ceiling: ptr(10), want: 10, wantCeiling: ptr(10)},
		{name: "clean batch under ceiling", outcome: failing(), ceiling: ptr(3), want: 3, wantCeiling: ptr(3)},
		{name: "minimum key does not wrap", outcome: failing(math.MinInt64), want: math.MinInt64, wantCeiling: ptr(math.MinInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ceiling := nextWatermark(docs(10, 11, 12), tt.outcome, tt.ceiling)
			assert.Equal(t, tt.want, w)
			assert.Equal(t, tt.wantCeiling, ceiling)
		})
	}
}

func TestPipelineLaterBatchesDoNotPassAFailure(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 10, 30)
	h.es.Reject("11", "failed to parse")

	res, err := h.pipeline(3).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 21, res.Documents)
	assert.Equal(t, int64(10), h.checkpoint(t))
	assert.Len(t, h.es.Docs(targetIndex), 20)

	// Once the document is accepted a rerun picks it up and moves on.
	h.es.Accept("11")
	res, err = h.pipeline(3).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, int64(30), h.checkpoint(t))
	assert.Len(t, h.es.Docs(targetIndex), 21)
}

func TestPipelineFailureOnFirstKey(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 10, 12)
	h.es.Reject("10", "failed to parse")

	_, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), h.checkpoint(t))
}

func TestPipelineRecoversFromTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)
	h.es.Inject(fakees.Fault{Drop: true}, fakees.Fault{Status: http.StatusServiceUnavailable})

	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Documents)
	assert.Equal(t, 5, h.es.BulkCalls())
	assert.Equal(t, int64(25), h.checkpoint(t))
}

func TestPipelineRetryExhaustedKeepsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 20)

	commits := 0
	loader := loaderFunc(func(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
		commits++
		if commits == 2 {
			h.es.Inject(
				fakees.Fault{Status: http.StatusServiceUnavailable},
				fakees.Fault{Status: http.StatusServiceUnavailable},
				fakees.Fault{Status: http.StatusServiceUnavailable},
			)
		}
		return h.writer.Commit(ctx, batch, maxAttempts)
	})
	p := h.pipeline(10)
	p.Loader = loader

	res, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 10, res.Documents)
	assert.Equal(t, int64(10), h.checkpoint(t))
	assert.Equal(t, 4, h.es.BulkCalls())
}

func TestPipelineFatalBackendKeepsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)
	require.NoError(t, h.store.Save(context.Background(), 15))
	h.es.Inject(fakees.Fault{Status: http.StatusForbidden})

	res, err := h.pipeline(10).Run(context.Background())
	require.ErrorIs(t, err, ErrFatalBackend)
	assert.Nil(t, res.Watermark)
	assert.Equal(t, int64(15), h.checkpoint(t))
	assert.Equal(t, 1, h.es.BulkCalls())
	assert.Empty(t, h.es.Docs(targetIndex))
}

func TestPipelineCursorExpiryIsFatalAndResumable(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 20)
	clock := clockwork.NewFakeClock()
	h.reader.Clock = clock

	p := h.pipeline(10)
	p.Loader = loaderFunc(func(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
		clock.Advance(2 * defaultLease)
		return h.writer.Commit(ctx, batch, maxAttempts)
	})

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrCursorExpired)
	assert.Equal(t, int64(10), h.checkpoint(t))

	// A restart opens a fresh cursor from the checkpoint.
	h.reader.Clock = clockwork.NewRealClock()
	res, err := h.pipeline(10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, res.Documents)
	assert.Equal(t, int64(20), h.checkpoint(t))

	bounds := h.es.LowerBounds()
	require.Len(t, bounds, 2)
	require.NotNil(t, bounds[1])
	assert.Equal(t, int64(10), *bounds[1])
}

func TestPipelineReaderFaultKeepsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.es.Seed(sourceIndex, map[string]string{
		"1": `{"ingestion_time":1}`,
		"2": `{"other":2}`,
	})

	_, err := h.pipeline(10).Run(context.Background())
	require.ErrorIs(t, err, ErrMissingOrderingKey)
	assert.Equal(t, int64(-1), h.checkpoint(t))
	assert.Equal(t, 0, h.es.BulkCalls())
}

func TestPipelineCancellationBetweenBatches(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := h.pipeline(10)
	p.Loader = loaderFunc(func(c context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
		cancel()
		return h.writer.Commit(c, batch, maxAttempts)
	})

	res, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, res.Documents)
	assert.Equal(t, int64(10), h.checkpoint(t))
	assert.Len(t, h.es.Docs(targetIndex), 10)
}

func TestPipelineCheckpointSaveFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 20)
	h.store = &checkpoint.FileStore{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), Path: "cp/logs-copy.txt"}

	res, err := h.pipeline(10).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, res.Batches)
	assert.Equal(t, 1, h.es.BulkCalls())
}

func TestPipelineDryRun(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)

	p := h.pipeline(10)
	p.Options.DryRun = true
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, res.Documents)
	assert.Equal(t, 0, h.es.BulkCalls())
	assert.Equal(t, int64(-1), h.checkpoint(t))
}

func TestPipelineMetrics(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 25)
	h.es.Reject("20", "bad")

	m, err := metrics.New(prometheus.NewRegistry(), sourceIndex, targetIndex)
	require.NoError(t, err)
	p := h.pipeline(10)
	p.Metrics = m

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Batches))
	assert.Equal(t, float64(24), testutil.ToFloat64(m.DocumentsCommitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocumentsFailed))
	assert.Equal(t, float64(19), testutil.ToFloat64(m.Watermark))
}

func TestPipelineElapsedUsesClock(t *testing.T) {
	h := newHarness(t)
	h.es.SeedRange(sourceIndex, 1, 5)
	clock := clockwork.NewFakeClock()

	p := h.pipeline(10)
	p.Clock = clock
	p.Loader = loaderFunc(func(ctx context.Context, batch models.Batch, maxAttempts int) (models.BulkOutcome, error) {
		clock.Advance(3 * time.Second)
		return h.writer.Commit(ctx, batch, maxAttempts)
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, res.Elapsed)
}

func TestShouldReport(t *testing.T) {
	p := &Pipeline{Options: PipelineOptions{ProgressEvery: 10}}

	tests := []struct {
		before, after, batches int
		want                   bool
	}{
		{0, 3, 1, true},
		{3, 6, 2, false},
		{6, 9, 3, false},
		{9, 12, 4, true},
		{12, 20, 5, true},
		{20, 25, 6, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.shouldReport(tt.before, tt.after, tt.batches), "%d -> %d", tt.before, tt.after)
	}

	p.Options.ProgressEvery = 0
	assert.True(t, p.shouldReport(3, 6, 2))
}
