package cli

import (
	"github.com/BartekS5/esync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the watermark and how far the target lags behind the source",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			bindFlags(v, c.Flags(), checkpointFlagKeys)
			bindFlags(v, c.Flags(), map[string]string{"ordering-field": config.KeyOrderingField})
			return runStatus(c.Context(), v, c.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("source-index", "", "Source index (SOURCE_INDEX)")
	f.String("target-index", "", "Target index (TARGET_INDEX)")
	f.String("ordering-field", "", "Ordering field (default ingestion_time)")
	addCheckpointFlags(f)

	return cmd
}
