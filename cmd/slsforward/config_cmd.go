package main

import (
	"fmt"
	"io"
	"maps"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// secretKeys are masked when the effective configuration is printed.
var secretKeys = []string{"access-key-secret", "security-token"}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration slsforward would run with after merging defaults,
the config file and SLSFORWARD_* environment variables. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeEffectiveConfig(cmd.OutOrStdout(), *configPath)
		},
	}
}

func writeEffectiveConfig(w io.Writer, configPath string) error {
	v, err := readConfig(configPath, nil)
	if err != nil {
		return err
	}
	settings := maps.Clone(v.AllSettings())
	for _, key := range secretKeys {
		if s, ok := settings[key].(string); ok && s != "" {
			settings[key] = "********"
		}
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "# config file: %s\n", used)
	}
	_, err = w.Write(out)
	return err
}
