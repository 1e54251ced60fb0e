package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tinytelemetry/slsink/internal/batch"
	"github.com/tinytelemetry/slsink/internal/ingest"
	"github.com/tinytelemetry/slsink/internal/logparse"
	"github.com/tinytelemetry/slsink/internal/sls"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var tags map[string]string

	cmd := &cobra.Command{
		Use:   "slsforward",
		Short: "Forward log lines and OTLP logs to Aliyun Log Service",
		Long: `slsforward reads log lines from stdin or TCP and OTLP/gRPC log exports,
parses them into structured events and ships them to a Log Service logstore.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("tags") {
				if cfg.Tags == nil {
					cfg.Tags = make(map[string]string, len(tags))
				}
				for k, v := range tags {
					cfg.Tags[k] = v
				}
			}
			return runServer(cfg)
		},
	}

	flags := cmd.Flags()
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/slsforward/config.yml)")
	flags.String("endpoint", "", "Log Service endpoint, e.g. cn-hangzhou.log.aliyuncs.com")
	flags.String("project", "", "Log Service project")
	flags.String("logstore", "", "Log Service logstore")
	flags.String("access-key-id", "", "AccessKey ID")
	flags.String("compression", defaultCompression, "request body compression: lz4, zstd, deflate or none")
	flags.String("min-level", defaultMinLevel, "minimum level to forward")
	flags.String("processor", "parse", "line processor: parse or passthrough")
	flags.String("tcp-addr", "", "TCP ingest listen address")
	flags.Bool("otlp-enabled", false, "accept OTLP/gRPC log exports")
	flags.String("otlp-addr", "", "OTLP/gRPC listen address")
	flags.String("api-addr", "", "status API listen address")
	flags.StringToStringVar(&tags, "tags", nil, "static log-group tags (key=value,...)")

	cmd.AddCommand(newVersionCmd(), newConfigCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "slsforward - Log Service forwarder\n")
			fmt.Fprintf(out, "  Version:    %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Built:      %s\n", buildTime)
			fmt.Fprintf(out, "  Go version: %s\n", goVersion)
		},
	}
}

var boundFlags = []string{
	"endpoint", "project", "logstore", "access-key-id", "compression", "min-level",
	"processor", "tcp-addr", "otlp-enabled", "otlp-addr", "api-addr",
}

// readConfig layers flags over SLSFORWARD_* environment variables over the
// config file over defaults. flags may be nil.
func readConfig(configPath string, flags *pflag.FlagSet) (*viper.Viper, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SLSFORWARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setDefaults(v.SetDefault)

	if flags != nil {
		for _, name := range boundFlags {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(name, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "slsforward", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return v, nil
}

// loadConfig reads and validates the runtime configuration.
func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	v, err := readConfig(configPath, flags)
	if err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return cfg, fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if _, err := sls.ParseCompression(cfg.Compression); err != nil {
		return cfg, fmt.Errorf("invalid compression: %w", err)
	}
	if _, err := batch.ParseOverflowPolicy(cfg.Overflow); err != nil {
		return cfg, fmt.Errorf("invalid overflow: %w", err)
	}
	if _, err := parseLevel(cfg.MinLevel); err != nil {
		return cfg, err
	}
	if _, err := ingest.NewEnvelopeProcessor(cfg.Processor, nil, ""); err != nil {
		return cfg, fmt.Errorf("invalid processor: %w", err)
	}

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

// validateDestination checks the settings that have no usable default.
func (c appConfig) validateDestination() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Project == "" {
		missing = append(missing, "project")
	}
	if c.Logstore == "" {
		missing = append(missing, "logstore")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// parseLevel accepts slog level names plus "trace" and "fatal".
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trace":
		return logparse.LevelTrace, nil
	case "fatal":
		return logparse.LevelFatal, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid min-level %q", s)
	}
	return l, nil
}
