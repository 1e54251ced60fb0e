package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/selflog"
)

// OverflowPolicy decides what happens when a destination's dispatch queue is
// full because the dispatcher is falling behind.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued batch to make room.
	DropOldest OverflowPolicy = iota
	// Block waits up to Config.BlockTimeout for room, then drops the new batch.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy parses "drop-oldest" or "block".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest", "drop_oldest", "dropoldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, fmt.Errorf("batch: unknown overflow policy %q", s)
	}
}

const defaultBlockTimeout = time.Second

// Config holds tunable parameters for the batch buffer.
// Zero values select the defaults in package model.
type Config struct {
	MaxBatchSize  int
	MaxBatchBytes int
	MaxLinger     time.Duration
	QueueSize     int
	Overflow      OverflowPolicy
	BlockTimeout  time.Duration

	// OnDrop is called with the number of records discarded for dest.
	// It runs on the goroutine that dropped them and must not block.
	// A panic in OnDrop is recovered and reported to Logger.
	OnDrop func(dest model.Destination, records int)

	// Logger receives overflow reports. Nil selects selflog.Default.
	Logger *selflog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = model.DefaultMaxBatchSize
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = model.DefaultMaxBatchBytes
	}
	if c.MaxLinger <= 0 {
		c.MaxLinger = model.DefaultMaxLinger
	}
	if c.QueueSize <= 0 {
		c.QueueSize = model.DefaultQueueSize
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = defaultBlockTimeout
	}
	if c.Logger == nil {
		c.Logger = selflog.Default()
	}
	return c
}
