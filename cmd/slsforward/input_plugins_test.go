package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildInputPlugins_RegistersPrimitives(t *testing.T) {
	t.Parallel()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: true,
		TCPAddr:    "127.0.0.1:5170",
	})

	if len(plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(plugins))
	}
	if plugins[0].Name() != "tcp" {
		t.Fatalf("plugins[0] name = %q, want %q", plugins[0].Name(), "tcp")
	}
	if plugins[1].Name() != "stdin" {
		t.Fatalf("plugins[1] name = %q, want %q", plugins[1].Name(), "stdin")
	}
	if !plugins[0].Enabled() {
		t.Fatal("expected tcp plugin to be enabled when TCPEnabled=true")
	}
}

func TestBuildInputPlugins_TCPDisabled(t *testing.T) {
	t.Parallel()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: false,
		TCPAddr:    "127.0.0.1:5170",
	})

	if len(plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(plugins))
	}
	if plugins[0].Enabled() {
		t.Fatal("expected tcp plugin to be disabled when TCPEnabled=false")
	}
}

type stubPlugin struct {
	name    string
	enabled bool
	err     error
}

func (p stubPlugin) Name() string  { return p.name }
func (p stubPlugin) Enabled() bool { return p.enabled }

func (p stubPlugin) Build(context.Context) (NamedLogSource, error) {
	if p.err != nil {
		return nil, p.err
	}
	return newFakeSource(p.name, 1), nil
}

func TestBuildSources_SkipsDisabledAndFailing(t *testing.T) {
	t.Parallel()

	var logged []string
	logf := func(format string, args ...any) { logged = append(logged, fmt.Sprintf(format, args...)) }

	sources := buildSources(context.Background(), []InputSourcePlugin{
		stubPlugin{name: "a", enabled: true},
		stubPlugin{name: "b", enabled: false},
		stubPlugin{name: "c", enabled: true, err: errors.New("address in use")},
	}, logf)

	if len(sources) != 1 || sources[0].Name() != "a" {
		t.Fatalf("sources = %v, want only a", sources)
	}
	if len(logged) != 1 || !strings.Contains(logged[0], "address in use") {
		t.Fatalf("logged = %v", logged)
	}
}

func TestTCPInputPlugin_BuildStartsServer(t *testing.T) {
	t.Parallel()

	src, err := tcpInputPlugin{addr: "127.0.0.1:0", enabled: true}.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer src.Stop()
	if src.Name() != "tcp" {
		t.Fatalf("Name() = %q, want tcp", src.Name())
	}
}

func TestLoadConfig_AddressResolution(t *testing.T) {
	resetForwarderEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		wantErr      bool
		wantHost     string
		wantTCPAddr  string
		wantAPIAddr  string
		errSubstring string
	}{
		{
			name: "defaults to localhost host",
			configYAML: `
tcp-port: 4100
api-port: 3100
`,
			wantHost:    "127.0.0.1",
			wantTCPAddr: "127.0.0.1:4100",
			wantAPIAddr: "127.0.0.1:3100",
		},
		{
			name: "host applies to derived tcp and api addresses",
			configYAML: `
host: 0.0.0.0
tcp-port: 4200
api-port: 3200
`,
			wantHost:    "0.0.0.0",
			wantTCPAddr: "0.0.0.0:4200",
			wantAPIAddr: "0.0.0.0:3200",
		},
		{
			name: "explicit addresses override host and ports",
			configYAML: `
host: 0.0.0.0
tcp-port: 4300
api-port: 3300
tcp-addr: 10.0.0.5:9999
api-addr: 10.0.0.5:8888
`,
			wantHost:    "0.0.0.0",
			wantTCPAddr: "10.0.0.5:9999",
			wantAPIAddr: "10.0.0.5:8888",
		},
		{
			name: "invalid tcp port rejected",
			configYAML: `
tcp-port: 70000
`,
			wantErr:      true,
			errSubstring: "invalid tcp-port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeTempConfig(t, tt.configYAML)
			cfg, err := loadConfig(configPath, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstring != "" && !strings.Contains(err.Error(), tt.errSubstring) {
					t.Fatalf("error = %q, want substring %q", err.Error(), tt.errSubstring)
				}
				return
			}

			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}

			if cfg.Host != tt.wantHost {
				t.Fatalf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.TCPAddr != tt.wantTCPAddr {
				t.Fatalf("TCPAddr = %q, want %q", cfg.TCPAddr, tt.wantTCPAddr)
			}
			if cfg.APIAddr != tt.wantAPIAddr {
				t.Fatalf("APIAddr = %q, want %q", cfg.APIAddr, tt.wantAPIAddr)
			}
		})
	}
}

func TestLoadConfig_DestinationSettings(t *testing.T) {
	resetForwarderEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		wantErr      bool
		errSubstring string
		assert       func(t *testing.T, cfg appConfig)
	}{
		{
			name: "handler defaults",
			configYAML: `
endpoint: cn-hangzhou.log.aliyuncs.com
project: demo
logstore: app
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				if err := cfg.validateDestination(); err != nil {
					t.Fatalf("validateDestination: %v", err)
				}
				if cfg.Compression != "lz4" {
					t.Fatalf("compression = %q, want lz4", cfg.Compression)
				}
				if cfg.OutputTemplate != "{Message}" {
					t.Fatalf("output-template = %q", cfg.OutputTemplate)
				}
				if cfg.TagGroup != "tags" {
					t.Fatalf("tag-group = %q", cfg.TagGroup)
				}
				if cfg.MaxLinger <= 0 || cfg.ShutdownGrace <= 0 {
					t.Fatalf("linger %s, grace %s: want positive defaults", cfg.MaxLinger, cfg.ShutdownGrace)
				}
			},
		},
		{
			name: "tags and batching from file",
			configYAML: `
endpoint: cn-hangzhou.log.aliyuncs.com
project: demo
logstore: app
compression: zstd
overflow: block
max-batch-size: 3
max-linger: 100ms
tags:
  env: prod
  region: hz
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				if cfg.Tags["env"] != "prod" || cfg.Tags["region"] != "hz" {
					t.Fatalf("tags = %v", cfg.Tags)
				}
				if cfg.MaxBatchSize != 3 || cfg.MaxLinger.Milliseconds() != 100 {
					t.Fatalf("batch = %d/%s", cfg.MaxBatchSize, cfg.MaxLinger)
				}
				if cfg.Overflow != "block" {
					t.Fatalf("overflow = %q", cfg.Overflow)
				}
			},
		},
		{
			name: "missing destination reported",
			configYAML: `
endpoint: cn-hangzhou.log.aliyuncs.com
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				err := cfg.validateDestination()
				if err == nil || !strings.Contains(err.Error(), "project, logstore") {
					t.Fatalf("validateDestination error = %v", err)
				}
			},
		},
		{
			name: "unknown compression rejected",
			configYAML: `
compression: snappy
`,
			wantErr:      true,
			errSubstring: "invalid compression",
		},
		{
			name: "unknown overflow rejected",
			configYAML: `
overflow: spill
`,
			wantErr:      true,
			errSubstring: "invalid overflow",
		},
		{
			name: "unknown level rejected",
			configYAML: `
min-level: loud
`,
			wantErr:      true,
			errSubstring: "invalid min-level",
		},
		{
			name: "unknown processor rejected",
			configYAML: `
processor: drain
`,
			wantErr:      true,
			errSubstring: "invalid processor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeTempConfig(t, tt.configYAML)
			cfg, err := loadConfig(configPath, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstring != "" && !strings.Contains(err.Error(), tt.errSubstring) {
					t.Fatalf("error = %q, want substring %q", err.Error(), tt.errSubstring)
				}
				return
			}

			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}
			if tt.assert != nil {
				tt.assert(t, cfg)
			}
		})
	}
}

func TestLoadConfig_EnvAndFlagsOverrideFile(t *testing.T) {
	resetForwarderEnv(t)
	t.Setenv("SLSFORWARD_PROJECT", "from-env")
	t.Setenv("SLSFORWARD_ACCESS_KEY_SECRET", "secret")

	configPath := writeTempConfig(t, `
project: from-file
logstore: from-file
`)
	cmd := newRootCmd()
	if err := cmd.Flags().Parse([]string{"--logstore", "from-flag"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := loadConfig(configPath, cmd.Flags())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Project != "from-env" {
		t.Fatalf("Project = %q, want from-env", cfg.Project)
	}
	if cfg.Logstore != "from-flag" {
		t.Fatalf("Logstore = %q, want from-flag", cfg.Logstore)
	}
	if cfg.AccessKeySecret != "secret" {
		t.Fatalf("AccessKeySecret = %q, want secret", cfg.AccessKeySecret)
	}
	if cfg.ConfigPath != configPath {
		t.Fatalf("ConfigPath = %q, want %q", cfg.ConfigPath, configPath)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "DEBUG-4"},
		{in: "trace", want: "DEBUG-4"},
		{in: "info", want: "INFO"},
		{in: "WARN", want: "WARN"},
		{in: "error", want: "ERROR"},
		{in: "fatal", want: "ERROR+4"},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseLevel(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLevel(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func resetForwarderEnv(t *testing.T) {
	t.Helper()

	original := make(map[string]string)
	existed := make(map[string]bool)

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "SLSFORWARD_") {
			continue
		}
		original[key] = value
		existed[key] = true
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}

	t.Cleanup(func() {
		for key := range existed {
			if err := os.Unsetenv(key); err != nil {
				t.Fatalf("cleanup unset %s: %v", key, err)
			}
		}
		for key, value := range original {
			if err := os.Setenv(key, value); err != nil {
				t.Fatalf("cleanup restore %s: %v", key, err)
			}
		}
	})
}
