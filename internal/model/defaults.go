package model

import "time"

// Shared defaults used by the sink, the forwarder and the mock server.
const (
	DefaultMaxBatchSize   = 4096
	DefaultMaxBatchBytes  = 3 * 1024 * 1024
	DefaultMaxLinger      = 2 * time.Second
	DefaultQueueSize      = 16
	DefaultShutdownGrace  = 5 * time.Second
	DefaultOutputTemplate = "{Message}"
	DefaultTagGroup       = "tags"
)
