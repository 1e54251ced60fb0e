package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/slsink/internal/batch"
	"github.com/tinytelemetry/slsink/internal/httpserver"
	"github.com/tinytelemetry/slsink/internal/ingest"
	"github.com/tinytelemetry/slsink/internal/otlpreceiver"
	"github.com/tinytelemetry/slsink/internal/sls"
	"github.com/tinytelemetry/slsink/internal/tcpserver"
	"github.com/tinytelemetry/slsink/pkg/slslog"
	"golang.org/x/sync/errgroup"
)

// forwarder owns the shipping handler and the inputs feeding it.
type forwarder struct {
	cfg       appConfig
	handler   *slslog.Handler
	processor ingest.EnvelopeProcessor
	mux       *SourceMultiplexer
	tcp       *tcpserver.Server
	otlp      *otlpreceiver.Receiver
}

// forwarderStats is the /api/stats payload.
type forwarderStats struct {
	Sink      slslog.Stats     `json:"sink"`
	Sources   map[string]int64 `json:"sources"`
	TCP       *tcpserver.Stats `json:"tcp,omitempty"`
	OTLP      *otlpStats       `json:"otlp,omitempty"`
	Processor string           `json:"processor"`
}

type otlpStats struct {
	Requests int64 `json:"requests"`
	Records  int64 `json:"records"`
}

func (f *forwarder) Stats() any {
	s := forwarderStats{
		Sink:      f.handler.Stats(),
		Sources:   f.mux.Forwarded(),
		Processor: f.processor.Name(),
	}
	if f.tcp != nil {
		ts := f.tcp.Stats()
		s.TCP = &ts
	}
	if f.otlp != nil {
		requests, records := f.otlp.Stats()
		s.OTLP = &otlpStats{Requests: requests, Records: records}
	}
	return s
}

// newHandler builds the Log Service client and the slog handler on top of it.
func newHandler(cfg appConfig) (*slslog.Handler, error) {
	compression, err := sls.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	overflow, err := batch.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return nil, err
	}
	minLevel, err := parseLevel(cfg.MinLevel)
	if err != nil {
		return nil, err
	}

	return slslog.Dial(slslog.ClientConfig{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		AccessKeySecret: cfg.AccessKeySecret,
		SecurityToken:   cfg.SecurityToken,
		Project:         cfg.Project,
		UseHTTPS:        cfg.UseHTTPS,
		PathStyle:       cfg.PathStyle,
		Compression:     compression,
		Timeout:         cfg.ClientTimeout,
		UserAgent:       "slsforward/" + version,
		Topic:           cfg.Topic,
		Source:          cfg.LogSource,
	}, slslog.Options{
		Project:        cfg.Project,
		Logstore:       cfg.Logstore,
		Tags:           cfg.Tags,
		TagGroup:       cfg.TagGroup,
		MinLevel:       minLevel,
		OutputTemplate: cfg.OutputTemplate,
		MaxBatchSize:   cfg.MaxBatchSize,
		MaxBatchBytes:  cfg.MaxBatchBytes,
		MaxLinger:      cfg.MaxLinger,
		QueueSize:      cfg.QueueSize,
		Overflow:       overflow,
		BlockTimeout:   cfg.BlockTimeout,
		Retry:          slslog.RetryPolicy{MaxAttempts: cfg.RetryAttempts},
		ShutdownGrace:  cfg.ShutdownGrace,
		OnFailure: func(err *slslog.DeliveryError) {
			log.Printf("delivery failed: %v", err)
		},
		OnDrop: func(dest slslog.Destination, records int) {
			log.Printf("dropped %d records for %s", records, dest)
		},
	})
}

// runServer forwards every enabled input to Log Service until a signal arrives
// or all inputs are exhausted.
func runServer(cfg appConfig) error {
	if err := cfg.validateDestination(); err != nil {
		return err
	}

	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	// Sink diagnostics share the runtime log.
	slslog.SetDiagnosticOutput(log.Writer())

	handler, err := newHandler(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize log service handler: %w", err)
	}
	sink := ingest.HandlerSink{Handler: handler, TagGroup: cfg.TagGroup}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(cfg.ShutdownGrace + 5*time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	f := &forwarder{cfg: cfg, handler: handler}

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled:  cfg.TCPEnabled,
		TCPAddr:     cfg.TCPAddr,
		MaxLineSize: cfg.MaxLineSize,
	})
	sources := buildSources(ctx, plugins, log.Printf)
	for _, src := range sources {
		if ts, ok := src.(interface{ Server() *tcpserver.Server }); ok {
			f.tcp = ts.Server()
		}
	}

	if cfg.OTLPEnabled {
		f.otlp = otlpreceiver.New(sink, otlpreceiver.Config{Addr: cfg.OTLPAddr})
		if err := f.otlp.Start(); err != nil {
			log.Printf("Error starting OTLP receiver: %v", err)
			f.otlp = nil
		}
	}

	f.mux = NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	f.mux.Start()

	if !f.mux.HasSources() && f.otlp == nil {
		_ = handler.Close(context.Background())
		return fmt.Errorf("no inputs available: enable tcp, otlp or pipe data on stdin")
	}

	primary := ""
	if names := f.mux.SourceNames(); len(names) > 0 {
		primary = names[0]
	}
	f.processor, err = ingest.NewEnvelopeProcessor(cfg.Processor, sink, primary)
	if err != nil {
		f.mux.Stop()
		_ = handler.Close(context.Background())
		return err
	}

	// Start HTTP status API if enabled
	var apiServer *httpserver.Server
	if cfg.APIEnabled {
		apiServer = httpserver.NewServer(cfg.APIAddr, f, handler.Flush)
		if err := apiServer.Start(); err != nil {
			log.Printf("Warning: failed to start API server: %v", err)
			apiServer = nil
		}
	}

	printStartupBanner(f)

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Ingestion loop
	if f.mux.HasSources() {
		g.Go(func() error {
			for env := range f.mux.Lines() {
				f.processor.ProcessEnvelope(gctx, env)
			}
			if fl, ok := f.processor.(interface{ Flush(context.Context) }); ok {
				fl.Flush(gctx)
			}
			// Inputs exhausted; stop unless OTLP is still serving.
			if f.otlp == nil {
				cancel()
			}
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		f.mux.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	if f.otlp != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		f.otlp.Stop(stopCtx)
		stopCancel()
	}
	if apiServer != nil {
		_ = apiServer.Stop()
	}

	// Close applies cfg.ShutdownGrace to the final flush.
	if err := handler.Close(context.Background()); err != nil {
		log.Printf("server: final flush incomplete: %v", err)
		return err
	}
	stats := handler.Stats()
	log.Printf("server: stopped; emitted=%d delivered=%d dropped=%d failed=%d",
		stats.Emitted, stats.Dispatch.DeliveredRecords, stats.Buffer.Dropped, stats.Dispatch.FailedRecords)
	return nil
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "slsforward")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "slsforward.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

func printStartupBanner(f *forwarder) {
	cfg := f.cfg
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦  ╔═╗  ╔═╗╔═╗╦═╗╦ ╦╔═╗╦═╗╔╦╗
    ╚═╗║  ╚═╗  ╠╣ ║ ║╠╦╝║║║╠═╣╠╦╝ ║║
    ╚═╝╩═╝╚═╝  ╚  ╚═╝╩╚═╚╩╝╩ ╩╩╚══╩╝`)

	ver := dim.Render("v" + version)

	row := func(on bool, label, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render(value))
	}

	var lines []string
	lines = append(lines, "", logo, "    "+ver, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	// Destination
	lines = append(lines, bold.Render("    Destination"), "")
	lines = append(lines, row(true, "Endpoint", cfg.Endpoint))
	lines = append(lines, row(true, "Logstore", cfg.Project+"/"+cfg.Logstore))
	lines = append(lines, row(true, "Compression", cfg.Compression))
	lines = append(lines, "")

	// Inputs
	lines = append(lines, bold.Render("    Inputs"), "")
	if f.tcp != nil {
		lines = append(lines, row(true, "TCP Ingest", f.tcp.Addr()))
	} else {
		lines = append(lines, row(false, "TCP Ingest", "disabled"))
	}
	if f.otlp != nil {
		lines = append(lines, row(true, "OTLP gRPC", f.otlp.Addr()))
	} else {
		lines = append(lines, row(false, "OTLP gRPC", "disabled"))
	}
	stdin := false
	for _, name := range f.mux.SourceNames() {
		if name == "stdin" {
			stdin = true
		}
	}
	if stdin {
		lines = append(lines, row(true, "Stdin", "piped"))
	} else {
		lines = append(lines, row(false, "Stdin", "not piped"))
	}
	lines = append(lines, "")

	// Runtime
	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, row(true, "Processor", f.processor.Name()))
	if cfg.APIEnabled {
		lines = append(lines, row(true, "Status API", cfg.APIAddr))
	} else {
		lines = append(lines, row(false, "Status API", "disabled"))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, row(false, "Config File", "default (no file)"))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Fprintln(os.Stderr, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
