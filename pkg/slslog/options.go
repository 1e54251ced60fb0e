package slslog

import (
	"log/slog"
	"time"

	"github.com/tinytelemetry/slsink/internal/batch"
	"github.com/tinytelemetry/slsink/internal/dispatch"
	"github.com/tinytelemetry/slsink/internal/format"
	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/sls"
)

// Exported names for the pipeline's building blocks.
type (
	Shipper        = model.LogShipper
	ShipperFunc    = model.LogShipperFunc
	Destination    = model.Destination
	Record         = model.Record
	Field          = model.Field
	TagSet         = model.TagSet
	Formatter      = format.Formatter
	FormatterFunc  = format.FormatterFunc
	Event          = format.Event
	RetryPolicy    = dispatch.RetryPolicy
	DeliveryError  = dispatch.DeliveryError
	OverflowPolicy = batch.OverflowPolicy
	ClientConfig   = sls.Config
	Compression    = sls.Compression
)

const (
	DropOldest = batch.DropOldest
	Block      = batch.Block

	CompressLZ4     = sls.CompressLZ4
	CompressZstd    = sls.CompressZstd
	CompressDeflate = sls.CompressDeflate
	CompressNone    = sls.CompressNone

	LevelFatal = format.LevelFatal
)

// Options configures a Handler. Only Logstore is required.
type Options struct {
	// Project overrides the client's default project.
	Project  string
	Logstore string

	// Tags are attached to every log group.
	Tags map[string]string
	// TagGroup names the attribute group whose members become tags instead
	// of fields. Defaults to "tags".
	TagGroup string

	// MinLevel is the lowest level shipped; nil ships everything.
	MinLevel slog.Leveler
	// LevelSwitch, when set, replaces MinLevel and can be changed at runtime.
	LevelSwitch *slog.LevelVar

	// OutputTemplate renders the message field; "{Message}" by default.
	OutputTemplate string
	// Location for {Timestamp}; nil keeps each event's own location.
	Location *time.Location
	// Formatter replaces the template formatter entirely.
	Formatter Formatter

	MaxBatchSize  int
	MaxBatchBytes int
	MaxLinger     time.Duration
	QueueSize     int
	Overflow      OverflowPolicy
	BlockTimeout  time.Duration

	Retry RetryPolicy
	// ShutdownGrace bounds Close when its context has no deadline.
	ShutdownGrace time.Duration

	// OnFailure is called once per batch that could not be delivered.
	OnFailure func(*DeliveryError)
	// OnDrop is called when records are discarded before dispatch.
	OnDrop func(dest Destination, records int)

	// Diagnostics receives the sink's own failure reports; the process-wide
	// diagnostic logger when nil.
	Diagnostics *DiagnosticLogger
}

func (o Options) batchConfig(logger *DiagnosticLogger) batch.Config {
	return batch.Config{
		MaxBatchSize:  o.MaxBatchSize,
		MaxBatchBytes: o.MaxBatchBytes,
		MaxLinger:     o.MaxLinger,
		QueueSize:     o.QueueSize,
		Overflow:      o.Overflow,
		BlockTimeout:  o.BlockTimeout,
		OnDrop:        o.OnDrop,
		Logger:        logger,
	}
}
