package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configKeys are the settings the generate command reads as flag defaults.
var configKeys = map[string]string{
	"data_dir": "directory with the PharmGKB TSV tables",
	"fasta":    "reference genome FASTA path",
	"output":   "default output file for evidence strings",
	"store":    "default DuckDB file for intermediate tables",
	"workers":  "concurrent external API calls (integer)",
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pgkb-evidence configuration",
		Long: "Show, get, or set configuration values. Config is stored in ~/.pgkb-evidence.yaml.\n\n" +
			"Keys:\n" + configKeyHelp(),
		Example: `  pgkb-evidence config                            # show all config
  pgkb-evidence config set fasta /data/GRCh38.fa  # set the reference genome
  pgkb-evidence config get fasta                  # get a value`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func configKeyHelp() string {
	keys := make([]string, 0, len(configKeys))
	for key := range configKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "  %-9s %s\n", key, configKeys[key])
	}
	return b.String()
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func runConfigShow() error {
	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("# No configuration set. Config file: ~/.pgkb-evidence.yaml")
		return nil
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigSet(key, value string) error {
	parsed, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}
	viper.Set(key, parsed)

	// Ensure config file exists
	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".pgkb-evidence.yaml")
	}

	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, value, cfgFile)
	return nil
}

// parseConfigValue rejects unknown keys and applies per-key typing: workers
// is an integer, everything else is a path or string.
func parseConfigValue(key, value string) (any, error) {
	if _, ok := configKeys[key]; !ok {
		return nil, fmt.Errorf("unknown config key %q; known keys:\n%s", key, configKeyHelp())
	}
	if key == "workers" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("workers must be a non-negative integer, got %q", value)
		}
		return n, nil
	}
	return value, nil
}

func runConfigGet(key string) error {
	if _, ok := configKeys[key]; !ok {
		return fmt.Errorf("unknown config key %q; known keys:\n%s", key, configKeyHelp())
	}
	val := viper.Get(key)
	if val == nil {
		return fmt.Errorf("key %q is not set", key)
	}
	fmt.Println(val)
	return nil
}
