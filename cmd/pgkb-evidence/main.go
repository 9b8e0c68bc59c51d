// Package main provides the pgkb-evidence command-line tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgkb-evidence",
		Short: "Generate Open Targets evidence strings from PharmGKB data",
		Long: `pgkb-evidence joins PharmGKB clinical annotation tables with the
reference genome, Ensembl VEP, OLS and Zooma into Open Targets
evidence strings, one JSON object per line.`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func initConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	viper.SetConfigName(".pgkb-evidence")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(home)
	viper.SetEnvPrefix("PGKB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}
