// Package metrics exposes migration progress as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "esync"

// Metrics holds the collectors for one migration run. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	DocumentsCommitted prometheus.Counter
	DocumentsFailed    prometheus.Counter
	Batches            prometheus.Counter
	BulkAttempts       prometheus.Counter
	Watermark          prometheus.Gauge
	BatchDurations     prometheus.Observer
}

// New creates the collectors, labelled with the index pair, and registers
// them on reg.
func New(reg prometheus.Registerer, sourceIndex, targetIndex string) (*Metrics, error) {
	labels := prometheus.Labels{"source_index": sourceIndex, "target_index": targetIndex}

	committed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "documents_committed_total",
		Help:        "Documents extracted from the source and written to the target",
		ConstLabels: labels,
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "documents_failed_total",
		Help:        "Documents rejected by the target and sent to the dead-letter sink",
		ConstLabels: labels,
	})
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "batches_total",
		Help:        "Batches committed, fully or partially",
		ConstLabels: labels,
	})
	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "bulk_attempts_total",
		Help:        "Bulk write calls issued, including retries",
		ConstLabels: labels,
	})
	watermark := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "watermark",
		Help:        "Last persisted watermark",
		ConstLabels: labels,
	})
	durations := prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:   namespace,
		Name:        "batch_duration_seconds",
		Help:        "Time spent committing one batch",
		Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		MaxAge:      time.Hour,
		ConstLabels: labels,
	})

	for _, c := range []prometheus.Collector{committed, failed, batches, attempts, watermark, durations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		DocumentsCommitted: committed,
		DocumentsFailed:    failed,
		Batches:            batches,
		BulkAttempts:       attempts,
		Watermark:          watermark,
		BatchDurations:     durations,
	}, nil
}

// ObserveBatch records one committed batch.
func (m *Metrics) ObserveBatch(outcome models.BulkOutcome, size int, took time.Duration) {
	if m == nil {
		return
	}
	failed := len(outcome.Failed())
	m.Batches.Inc()
	m.BulkAttempts.Add(float64(outcome.Attempts))
	m.DocumentsCommitted.Add(float64(size - failed))
	m.DocumentsFailed.Add(float64(failed))
	m.BatchDurations.Observe(took.Seconds())
}

// ObserveAttempts records bulk calls of a batch that did not commit.
func (m *Metrics) ObserveAttempts(attempts int) {
	if m == nil {
		return
	}
	m.BulkAttempts.Add(float64(attempts))
}

func (m *Metrics) SetWatermark(w models.Watermark) {
	if m == nil {
		return
	}
	m.Watermark.Set(float64(w))
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics listener on %s stopped: %v", addr, err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Serving metrics on %s/metrics", addr)
	return srv
}
