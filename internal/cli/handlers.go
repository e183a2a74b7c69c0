package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/BartekS5/esync/internal/checkpoint"
	"github.com/BartekS5/esync/internal/config"
	"github.com/BartekS5/esync/internal/deadletter"
	"github.com/BartekS5/esync/internal/etl"
	"github.com/BartekS5/esync/internal/metrics"
	"github.com/BartekS5/esync/pkg/database"
	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

// setup resolves the configuration and starts logging.
func setup(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadConfig(v)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	level := logger.INFO
	if cfg.LogLevel == "debug" {
		level = logger.DEBUG
	}
	if err := logger.InitLogger(cfg.LogFile, level); err != nil {
		return nil, fmt.Errorf("could not initialise logging: %w", err)
	}
	return cfg, nil
}

func connectElastic(c config.ClusterConfig) (*elasticsearch.Client, error) {
	return database.ConnectElastic(database.ElasticOptions{
		Address:    c.Address(),
		Username:   c.Username,
		Password:   c.Password,
		CACertFile: c.CACertFile,
	})
}

func runMigration(ctx context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := setup(v)
	if err != nil {
		return err
	}
	defer logger.Close()

	runID := uuid.NewString()
	logger.Infof("Run %s: %s/%s -> %s/%s", runID, cfg.Source.Address(), cfg.Source.Index, cfg.Target.Address(), cfg.Target.Index)

	sourceClient, err := connectElastic(cfg.Source)
	if err != nil {
		return err
	}
	targetClient, err := connectElastic(cfg.Target)
	if err != nil {
		return err
	}

	store, closeStore, err := checkpoint.New(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := deadletter.New(cfg.DeadLetter)
	if err != nil {
		return err
	}
	defer closeSink()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg, cfg.Source.Index, cfg.Target.Index)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, reg)
	}

	reader := etl.NewScrollReader(sourceClient, cfg.OrderingField)
	writer := etl.NewBatchWriter(
		etl.NewElasticTarget(targetClient, cfg.Target.Index, cfg.MappingType),
		sink,
		cfg.Target.Index,
		cfg.RetryBackoff,
	)
	writer.RunID = runID

	pipeline := etl.NewPipeline(reader, writer, store, etl.PipelineOptions{
		SourceIndex:   cfg.Source.Index,
		PageSize:      cfg.PageSize,
		Lease:         cfg.ScrollDuration,
		MaxAttempts:   cfg.MaxAttempts,
		ProgressEvery: cfg.ProgressEvery,
		DryRun:        cfg.DryRun,
	})
	pipeline.Metrics = m

	res, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s failed: %w", runID, err)
	}

	watermark := "none"
	if res.Watermark != nil {
		watermark = res.Watermark.String()
	}
	fmt.Fprintf(out, "Migrated %d documents in %d batches (%d rejected), checkpoint %s, took %s\n",
		res.Documents, res.Batches, res.Failed, watermark, res.Elapsed.Round(time.Millisecond))
	return nil
}

func runCheckpointShow(ctx context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := setup(v)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, closeStore, err := checkpoint.New(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	if w, ok := store.Load(ctx); ok {
		fmt.Fprintln(out, w)
	} else {
		fmt.Fprintln(out, "no checkpoint")
	}
	return nil
}

func runCheckpointSet(ctx context.Context, v *viper.Viper, value string, out io.Writer) error {
	w, err := models.ParseWatermark(value)
	if err != nil {
		return err
	}
	cfg, err := setup(v)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, closeStore, err := checkpoint.New(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	previous := "none"
	if old, ok := store.Load(ctx); ok {
		previous = old.String()
	}
	if err := store.Save(ctx, w); err != nil {
		return err
	}
	logger.Warnf("Checkpoint for %s -> %s moved from %s to %s by operator", cfg.Source.Index, cfg.Target.Index, previous, w)
	fmt.Fprintf(out, "checkpoint set to %s (was %s)\n", w, previous)
	return nil
}

func runStatus(ctx context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := setup(v)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, closeStore, err := checkpoint.New(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	sourceClient, err := connectElastic(cfg.Source)
	if err != nil {
		return err
	}
	targetClient, err := connectElastic(cfg.Target)
	if err != nil {
		return err
	}
	source := etl.NewScrollReader(sourceClient, cfg.OrderingField)
	target := etl.NewScrollReader(targetClient, cfg.OrderingField)

	var bound *models.Watermark
	if w, ok := store.Load(ctx); ok {
		bound = &w
		fmt.Fprintf(out, "checkpoint:  %s\n", w)
	} else {
		fmt.Fprintln(out, "checkpoint:  none")
	}

	total, err := source.Count(ctx, cfg.Source.Index, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "source:      %d documents in %s\n", total, cfg.Source.Index)

	if copied, err := target.Count(ctx, cfg.Target.Index, nil); err != nil {
		fmt.Fprintf(out, "target:      unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(out, "target:      %d documents in %s\n", copied, cfg.Target.Index)
	}

	remaining, err := source.Count(ctx, cfg.Source.Index, bound)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "remaining:   %d documents at or above the checkpoint\n", remaining)
	return nil
}
