package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/BartekS5/esync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var migrateFlagKeys = map[string]string{
	"source-index":         config.KeySourceIndex,
	"target-index":         config.KeyTargetIndex,
	"mapping-type":         config.KeyTargetMapping,
	"ordering-field":       config.KeyOrderingField,
	"page-size":            config.KeyScrollSize,
	"scroll":               config.KeyScrollInterval,
	"max-attempts":         config.KeyMaxAttempts,
	"backoff":              config.KeyRetryBackoff,
	"progress-every":       config.KeyProgressEvery,
	"dry-run":              config.KeyDryRun,
	"metrics-addr":         config.KeyMetricsAddr,
	"checkpoint-backend":   config.KeyCheckpointBackend,
	"checkpoint-path":      config.KeyCheckpointPath,
	"checkpoint-dsn":       config.KeyCheckpointDSN,
	"deadletter-backend":   config.KeyDeadLetterBackend,
	"deadletter-path":      config.KeyDeadLetterPath,
	"deadletter-mongo-uri": config.KeyDeadLetterMongoURI,
}

func NewMigrateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy new documents from the source index to the target index",
		RunE: func(c *cobra.Command, args []string) error {
			bindFlags(v, c.Flags(), migrateFlagKeys)
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMigration(ctx, v, c.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("source-index", "", "Source index (SOURCE_INDEX)")
	f.String("target-index", "", "Target index (TARGET_INDEX)")
	f.String("mapping-type", "", "Legacy _type written on the target (TARGET_MAPPING)")
	f.String("ordering-field", "", "Field the source is read in ascending order of (default ingestion_time)")
	f.IntP("page-size", "b", 0, "Documents per scroll page and bulk request (default 1000)")
	f.String("scroll", "", "Scroll lease, e.g. 60s or 60 (default 60s)")
	f.Int("max-attempts", 0, "Bulk attempts per batch before giving up (default 3)")
	f.String("backoff", "", "Wait between bulk attempts (default 30s)")
	f.Int("progress-every", 0, "Log progress every N documents (default 10000)")
	f.Bool("dry-run", false, "Read and report without writing or checkpointing")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9108")
	addCheckpointFlags(f)
	f.String("deadletter-backend", "", "Dead-letter sink: file or mongo (default file)")
	f.String("deadletter-path", "", "Dead-letter file (default failedDocs.txt)")
	f.String("deadletter-mongo-uri", "", "MongoDB URI for the mongo dead-letter sink")

	return cmd
}
