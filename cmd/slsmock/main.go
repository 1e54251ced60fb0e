// Command slsmock runs an in-memory Log Service PutLogs endpoint for local
// development of log shippers.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tinytelemetry/slsink/internal/slsmock"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg slsmock.Config
	var debug bool

	cmd := &cobra.Command{
		Use:          "slsmock",
		Short:        "Serve an in-memory Log Service PutLogs endpoint",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !debug {
				gin.SetMode(gin.ReleaseMode)
			}
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", "127.0.0.1:8701", "listen address")
	flags.StringVar(&cfg.AccessKeyID, "access-key-id", "", "verify request signatures with this AccessKey ID")
	flags.StringVar(&cfg.AccessKeySecret, "access-key-secret", "", "AccessKey secret used for signature checks")
	flags.DurationVar(&cfg.Latency, "latency", 0, "delay added to every PutLogs response")
	flags.BoolVar(&debug, "debug", false, "enable gin debug logging")
	return cmd
}

func run(cmd *cobra.Command, cfg slsmock.Config) error {
	srv := slsmock.NewServer(cfg)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start mock server: %w", err)
	}
	start := time.Now()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "slsmock listening on http://%s\n", srv.Addr())
	fmt.Fprintf(out, "  PutLogs:  POST /logstores/{logstore}/shards/lb (project from host or x-log-project)\n")
	fmt.Fprintf(out, "  Inspect:  GET  /api/logstores/{logstore}/groups?project={project}\n")
	if cfg.AccessKeyID == "" {
		fmt.Fprintf(out, "  Signatures are not verified\n")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	fmt.Fprintf(out, "\nreceived %d requests (%d rejected) in %s\n",
		srv.Requests(), srv.Rejected(), time.Since(start).Round(time.Second))
	return srv.Stop()
}
