package ingest

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/slsink/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *recordingSink) Emit(_ context.Context, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func TestNewEnvelopeProcessor_DefaultParse(t *testing.T) {
	t.Parallel()

	p, err := NewEnvelopeProcessor("", nil, "")
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor returned error: %v", err)
	}
	if p.Name() != ProcessorModeParse {
		t.Fatalf("processor name = %q, want %q", p.Name(), ProcessorModeParse)
	}
	if _, ok := p.(*Processor); !ok {
		t.Fatalf("processor type = %T, want *Processor", p)
	}
}

func TestNewEnvelopeProcessor_Passthrough(t *testing.T) {
	t.Parallel()

	p, err := NewEnvelopeProcessor("passthrough", nil, "")
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor returned error: %v", err)
	}
	if p.Name() != ProcessorModePassthrough {
		t.Fatalf("processor name = %q, want %q", p.Name(), ProcessorModePassthrough)
	}
	if _, ok := p.(*PassthroughProcessor); !ok {
		t.Fatalf("processor type = %T, want *PassthroughProcessor", p)
	}
}

func TestNewEnvelopeProcessor_InvalidMode(t *testing.T) {
	t.Parallel()

	if _, err := NewEnvelopeProcessor("unknown", nil, ""); err == nil {
		t.Fatal("expected error for invalid processor mode")
	}
}

func TestPassthroughProcessor_ProcessEnvelope_UsesDefaultSource(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPassthroughProcessor(sink, "stdin")

	result := p.ProcessEnvelope(context.Background(), model.IngestEnvelope{Line: `{"msg":"hello world"}`})
	if result == nil || len(result.Entries) != 1 {
		t.Fatal("expected one entry")
	}
	if got := len(sink.entries); got != 1 {
		t.Fatalf("sink entries = %d, want 1", got)
	}

	e := sink.entries[0]
	if e.Source != "stdin" {
		t.Fatalf("entry source = %q, want %q", e.Source, "stdin")
	}
	if e.Message != `{"msg":"hello world"}` {
		t.Fatalf("entry message = %q, want raw line", e.Message)
	}
}

func TestPassthroughProcessor_ProcessEnvelope_SourceOverride(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPassthroughProcessor(sink, "stdin")

	p.ProcessEnvelope(context.Background(), model.IngestEnvelope{Source: "tcp", Line: "hello"})
	if got := sink.entries[0].Source; got != "tcp" {
		t.Fatalf("entry source = %q, want %q", got, "tcp")
	}
}

func TestProcessor_MultiLineJSON(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(sink, "stdin")
	ctx := context.Background()

	lines := []string{`{`, `  "level": "warn",`, `  "msg": "split object"`, `}`}
	for i, line := range lines[:3] {
		if r := p.ProcessEnvelope(ctx, model.IngestEnvelope{Line: line}); r != nil {
			t.Fatalf("line %d: expected accumulation, got %+v", i, r)
		}
	}
	r := p.ProcessEnvelope(ctx, model.IngestEnvelope{Line: lines[3]})
	if r == nil || len(r.Entries) != 1 {
		t.Fatalf("expected one entry after closing brace, got %+v", r)
	}
	if r.Entries[0].Message != "split object" || r.Entries[0].Level != slog.LevelWarn {
		t.Errorf("entry = %+v", r.Entries[0])
	}
}

func TestProcessor_AccumulatesPerSource(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(sink, "")
	ctx := context.Background()

	p.ProcessEnvelope(ctx, model.IngestEnvelope{Source: "tcp", Line: `{"msg":`})
	p.ProcessEnvelope(ctx, model.IngestEnvelope{Source: "stdin", Line: "plain ERROR line"})
	p.ProcessEnvelope(ctx, model.IngestEnvelope{Source: "tcp", Line: `"from tcp"}`})

	if len(sink.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(sink.entries))
	}
	if sink.entries[0].Source != "stdin" || sink.entries[0].Level != slog.LevelError {
		t.Errorf("first entry = %+v", sink.entries[0])
	}
	if sink.entries[1].Source != "tcp" || sink.entries[1].Message != "from tcp" {
		t.Errorf("second entry = %+v", sink.entries[1])
	}
}

func TestProcessor_FlushEmitsPartialJSON(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(sink, "stdin")
	ctx := context.Background()

	p.ProcessEnvelope(ctx, model.IngestEnvelope{Line: `{"msg": "never closed",`})
	p.Flush(ctx)

	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	if sink.entries[0].Message != `{"msg": "never closed",` {
		t.Errorf("message = %q", sink.entries[0].Message)
	}
}

type captureHandler struct {
	level   slog.Level
	records []slog.Record
}

func (h *captureHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func TestHandlerSink(t *testing.T) {
	t.Parallel()

	h := &captureHandler{level: slog.LevelInfo}
	sink := HandlerSink{Handler: h, TagGroup: "tags"}
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	sink.Emit(context.Background(), Entry{Level: slog.LevelDebug, Message: "skipped"})
	sink.Emit(context.Background(), Entry{
		Time:    ts,
		Level:   slog.LevelWarn,
		Message: "kept",
		Attrs:   []slog.Attr{slog.Int("n", 1)},
		Tags:    map[string]string{"service.name": "api"},
		Source:  "tcp",
	})

	if len(h.records) != 1 {
		t.Fatalf("records = %d, want 1", len(h.records))
	}
	r := h.records[0]
	if !r.Time.Equal(ts) || r.Message != "kept" || r.Level != slog.LevelWarn {
		t.Errorf("record = %+v", r)
	}

	got := map[string]slog.Value{}
	r.Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value
		return true
	})
	if got["source"].String() != "tcp" {
		t.Errorf("source = %v", got["source"])
	}
	tags := got["tags"]
	if tags.Kind() != slog.KindGroup || len(tags.Group()) != 1 || tags.Group()[0].Value.String() != "api" {
		t.Errorf("tags = %v", tags)
	}
}
