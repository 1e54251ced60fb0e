// Package logsource adapts line inputs to one channel-based interface.
package logsource

import "github.com/tinytelemetry/slsink/internal/model"

// LogSource is a unified interface for all log input sources (TCP, stdin).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of log lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin"
}
