package cli

import (
	"fmt"

	"github.com/BartekS5/esync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func NewRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "esync",
		Short: "esync - incremental Elasticsearch index replication",
		Long: `esync copies documents from a source Elasticsearch index into a target index.
It reads in ascending order of an ordering field, writes with the bulk API and
records a watermark after every batch, so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindEnv(v); err != nil {
				return fmt.Errorf("failed to bind environment: %w", err)
			}
			if configFile != "" {
				return config.LoadFile(v, configFile)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Path to a YAML, JSON or TOML config file")
	pf.String("log-file", "", "Also write JSON logs to this file")
	pf.String("log-level", "", "Log level: info or debug")
	bindFlags(v, pf, map[string]string{
		"log-file":  config.KeyLogFile,
		"log-level": config.KeyLogLevel,
	})

	rootCmd.AddCommand(NewMigrateCmd(v), NewCheckpointCmd(v), NewStatusCmd(v))

	return rootCmd
}

// bindFlags makes each flag, when set, override its configuration key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}
