package main

import (
	"time"

	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/otlpreceiver"
)

const (
	defaultBindHost      = "127.0.0.1"
	defaultTCPPort       = 5170
	defaultAPIPort       = 3000
	defaultMuxBufferSize = DefaultMuxBuffer
	defaultMaxLineSize   = 1024 * 1024
	defaultCompression   = "lz4"
	defaultOverflow      = "drop-oldest"
	defaultBlockTimeout  = 100 * time.Millisecond
	defaultClientTimeout = 30 * time.Second
	defaultMinLevel      = "trace"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	// Log Service destination
	Endpoint        string            `mapstructure:"endpoint"`
	AccessKeyID     string            `mapstructure:"access-key-id"`
	AccessKeySecret string            `mapstructure:"access-key-secret"`
	SecurityToken   string            `mapstructure:"security-token"`
	Project         string            `mapstructure:"project"`
	Logstore        string            `mapstructure:"logstore"`
	UseHTTPS        bool              `mapstructure:"use-https"`
	PathStyle       bool              `mapstructure:"path-style"`
	Compression     string            `mapstructure:"compression"`
	ClientTimeout   time.Duration     `mapstructure:"client-timeout"`
	Topic           string            `mapstructure:"topic"`
	LogSource       string            `mapstructure:"log-source"`
	Tags            map[string]string `mapstructure:"tags"`

	// Handler
	MinLevel       string        `mapstructure:"min-level"`
	OutputTemplate string        `mapstructure:"output-template"`
	TagGroup       string        `mapstructure:"tag-group"`
	MaxBatchSize   int           `mapstructure:"max-batch-size"`
	MaxBatchBytes  int           `mapstructure:"max-batch-bytes"`
	MaxLinger      time.Duration `mapstructure:"max-linger"`
	QueueSize      int           `mapstructure:"queue-size"`
	Overflow       string        `mapstructure:"overflow"`
	BlockTimeout   time.Duration `mapstructure:"block-timeout"`
	RetryAttempts  int           `mapstructure:"retry-attempts"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown-grace"`

	// Inputs
	Host          string `mapstructure:"host"`
	Processor     string `mapstructure:"processor"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	OTLPEnabled   bool   `mapstructure:"otlp-enabled"`
	OTLPAddr      string `mapstructure:"otlp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`
	MaxLineSize   int    `mapstructure:"max-line-size"`

	// Status API
	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

func setDefaults(set func(key string, value any)) {
	// Every key needs a default so AutomaticEnv values reach Unmarshal.
	for _, key := range []string{
		"endpoint", "access-key-id", "access-key-secret", "security-token",
		"project", "logstore", "topic", "log-source", "tcp-addr", "api-addr",
	} {
		set(key, "")
	}
	set("use-https", false)
	set("path-style", false)
	set("compression", defaultCompression)
	set("client-timeout", defaultClientTimeout)
	set("min-level", defaultMinLevel)
	set("output-template", model.DefaultOutputTemplate)
	set("tag-group", model.DefaultTagGroup)
	set("max-batch-size", model.DefaultMaxBatchSize)
	set("max-batch-bytes", model.DefaultMaxBatchBytes)
	set("max-linger", model.DefaultMaxLinger)
	set("queue-size", model.DefaultQueueSize)
	set("overflow", defaultOverflow)
	set("block-timeout", defaultBlockTimeout)
	set("retry-attempts", 0)
	set("shutdown-grace", model.DefaultShutdownGrace)
	set("host", defaultBindHost)
	set("processor", "parse")
	set("tcp-enabled", true)
	set("tcp-port", defaultTCPPort)
	set("otlp-enabled", false)
	set("otlp-addr", otlpreceiver.DefaultAddr)
	set("mux-buffer-size", defaultMuxBufferSize)
	set("max-line-size", defaultMaxLineSize)
	set("api-enabled", true)
	set("api-port", defaultAPIPort)
}
