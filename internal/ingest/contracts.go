package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinytelemetry/slsink/internal/model"
)

const (
	// ProcessorModeParse parses JSON and OTEL JSON lines, falling back to text.
	ProcessorModeParse = "parse"
	// ProcessorModePassthrough ships every line as plain text.
	ProcessorModePassthrough = "passthrough"
)

// Sink receives parsed entries.
type Sink interface {
	Emit(ctx context.Context, entry Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry Entry)

func (f SinkFunc) Emit(ctx context.Context, entry Entry) { f(ctx, entry) }

// EnvelopeProcessor consumes source-tagged ingest lines and emits entries.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(ctx context.Context, env model.IngestEnvelope) *ProcessResult
}

// ProcessResult holds the entries produced from one envelope.
type ProcessResult struct {
	Entries []Entry
}

// NewEnvelopeProcessor creates the processor for mode ("" selects parse).
func NewEnvelopeProcessor(mode string, sink Sink, sourceName string) (EnvelopeProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeParse:
		return NewProcessor(sink, sourceName), nil
	case ProcessorModePassthrough:
		return NewPassthroughProcessor(sink, sourceName), nil
	default:
		return nil, fmt.Errorf("ingest: unknown processor mode %q", mode)
	}
}
