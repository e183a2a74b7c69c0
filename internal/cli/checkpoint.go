package cli

import (
	"github.com/BartekS5/esync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var checkpointFlagKeys = map[string]string{
	"source-index":       config.KeySourceIndex,
	"target-index":       config.KeyTargetIndex,
	"checkpoint-backend": config.KeyCheckpointBackend,
	"checkpoint-path":    config.KeyCheckpointPath,
	"checkpoint-dsn":     config.KeyCheckpointDSN,
}

func addCheckpointFlags(f *pflag.FlagSet) {
	f.String("checkpoint-backend", "", "Checkpoint store: file or sqlserver (default file)")
	f.String("checkpoint-path", "", "Checkpoint file (LOG_FILE, default checkpoint/<target-index>.txt)")
	f.String("checkpoint-dsn", "", "SQL Server DSN for the sqlserver checkpoint store")
}

func NewCheckpointCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or override the stored watermark",
	}
	pf := cmd.PersistentFlags()
	pf.String("source-index", "", "Source index (SOURCE_INDEX)")
	pf.String("target-index", "", "Target index (TARGET_INDEX)")
	addCheckpointFlags(pf)

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored watermark",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			bindFlags(v, c.Flags(), checkpointFlagKeys)
			return runCheckpointShow(c.Context(), v, c.OutOrStdout())
		},
	}

	set := &cobra.Command{
		Use:   "set <watermark>",
		Short: "Overwrite the stored watermark; the next run resumes from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			bindFlags(v, c.Flags(), checkpointFlagKeys)
			return runCheckpointSet(c.Context(), v, args[0], c.OutOrStdout())
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}
