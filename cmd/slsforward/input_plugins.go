package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/slsink/internal/logsource"
	"github.com/tinytelemetry/slsink/internal/tcpserver"
	"golang.org/x/term"
)

// NamedLogSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedLogSource = logsource.LogSource

// InputSourcePlugin is a small plugin primitive for wiring log inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedLogSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled  bool
	TCPAddr     string
	MaxLineSize int
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, tcpInputPlugin{
		addr:        cfg.TCPAddr,
		enabled:     cfg.TCPEnabled,
		maxLineSize: cfg.MaxLineSize,
	})
	plugins = append(plugins, stdinInputPlugin{maxLineSize: cfg.MaxLineSize})
	return plugins
}

// buildSources starts every enabled plugin. A plugin that fails to start is
// reported through logf and skipped.
func buildSources(ctx context.Context, plugins []InputSourcePlugin, logf func(string, ...any)) []NamedLogSource {
	sources := make([]NamedLogSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

type tcpInputPlugin struct {
	addr        string
	enabled     bool
	maxLineSize int
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedLogSource, error) {
	server := tcpserver.NewServer(p.addr, tcpserver.ServerConfig{MaxLineSize: p.maxLineSize})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return logsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	maxLineSize int
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled reports whether stdin is piped or redirected rather than a terminal.
func (p stdinInputPlugin) Enabled() bool {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedLogSource, error) {
	return logsource.NewStdinSource(ctx, logsource.StdinConfig{MaxLineSize: p.maxLineSize}), nil
}
