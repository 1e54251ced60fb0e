// Package slslog is a log/slog handler that ships events to Log Service.
//
// Events are formatted on the calling goroutine and appended to an
// in-memory batch for their destination; batches are sealed by size, byte
// volume, age or tag change and sent by one background worker per
// destination with retry. Handle never blocks on the network and never
// returns an error.
package slslog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/slsink/internal/batch"
	"github.com/tinytelemetry/slsink/internal/dispatch"
	"github.com/tinytelemetry/slsink/internal/format"
	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/selflog"
	"github.com/tinytelemetry/slsink/internal/sls"
	"github.com/tinytelemetry/slsink/internal/tags"
)

var (
	ErrNilClient  = errors.New("slslog: client is required")
	ErrNoLogstore = errors.New("slslog: logstore is required")
)

// pipeline is shared by a handler and everything derived from it.
type pipeline struct {
	formatter   format.Formatter
	merger      *tags.Merger
	buffer      *batch.Buffer
	dispatcher  *dispatch.Dispatcher
	minLevel    slog.Leveler
	levelSwitch *slog.LevelVar
	tagGroup    string
	grace       time.Duration
	logger      *selflog.Logger

	emitted      atomic.Int64
	emitFailures atomic.Int64
}

// groupOrAttrs is one WithGroup or WithAttrs step.
type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

// Handler implements slog.Handler.
type Handler struct {
	p    *pipeline
	dest model.Destination
	goas []groupOrAttrs
}

var _ slog.Handler = (*Handler)(nil)

// New builds a handler that ships through client.
func New(client Shipper, opts Options) (*Handler, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if opts.Logstore == "" {
		return nil, ErrNoLogstore
	}

	formatter := opts.Formatter
	if formatter == nil {
		tf, err := format.NewTemplateFormatter(opts.OutputTemplate, opts.Location)
		if err != nil {
			return nil, fmt.Errorf("slslog: output template: %w", err)
		}
		formatter = tf
	}
	tagGroup := opts.TagGroup
	if tagGroup == "" {
		tagGroup = model.DefaultTagGroup
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = model.DefaultShutdownGrace
	}
	logger := opts.Diagnostics
	if logger == nil {
		logger = selflog.Default()
	}

	d := dispatch.New(client, dispatch.Config{
		Policy:    opts.Retry,
		Logger:    logger,
		OnFailure: opts.OnFailure,
	})
	p := &pipeline{
		formatter:   formatter,
		merger:      tags.NewMerger(opts.Tags),
		buffer:      batch.NewBuffer(d, opts.batchConfig(logger)),
		dispatcher:  d,
		minLevel:    opts.MinLevel,
		levelSwitch: opts.LevelSwitch,
		tagGroup:    tagGroup,
		grace:       grace,
		logger:      logger,
	}
	return &Handler{
		p:    p,
		dest: model.Destination{Project: opts.Project, Logstore: opts.Logstore},
	}, nil
}

// Dial creates a Log Service client from cfg and a handler on top of it.
func Dial(cfg ClientConfig, opts Options) (*Handler, error) {
	client, err := sls.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(client, opts)
}

// DiagnosticLogger receives the sink's own failure reports.
type DiagnosticLogger = selflog.Logger

// NewDiagnosticLogger returns a diagnostic logger writing to w.
func NewDiagnosticLogger(w io.Writer) *DiagnosticLogger { return selflog.New(w) }

// SetDiagnosticOutput redirects the sink's own failure reports.
// A nil writer discards them.
func SetDiagnosticOutput(w io.Writer) { selflog.SetOutput(w) }

// Destination returns where this handler's events are sent.
func (h *Handler) Destination() Destination { return h.dest }

// Enabled reports whether level passes the handler's minimum level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	if h.p.levelSwitch != nil {
		return level >= h.p.levelSwitch.Level()
	}
	if h.p.minLevel == nil {
		return true
	}
	return level >= h.p.minLevel.Level()
}

// Handle formats r and queues it for its destination. It always returns nil.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			h.p.emitFailures.Add(1)
			h.p.logger.Printf("emit to %s failed: %v", h.dest, rec)
		}
	}()

	recAttrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		recAttrs = append(recAttrs, a)
		return true
	})
	attrs, tagAttrs := splitTagGroup(h.assemble(recAttrs), h.p.tagGroup)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := h.p.formatter.Format(format.Event{
		Time:    ts,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
		Err:     format.FindError(attrs),
	})
	rec.Tags = h.p.merger.Merge(tagsFromContext(ctx), tags.FromAttrs(tagAttrs))

	h.p.buffer.Offer(h.dest, rec)
	h.p.emitted.Add(1)
	return nil
}

// assemble nests the record's attributes inside the handler's open groups,
// innermost first. Groups left empty vanish.
func (h *Handler) assemble(recAttrs []slog.Attr) []slog.Attr {
	cur := recAttrs
	for i := len(h.goas) - 1; i >= 0; i-- {
		g := h.goas[i]
		if g.group != "" {
			if len(cur) == 0 {
				continue
			}
			cur = []slog.Attr{{Key: g.group, Value: slog.GroupValue(cur...)}}
			continue
		}
		merged := make([]slog.Attr, 0, len(g.attrs)+len(cur))
		merged = append(merged, g.attrs...)
		cur = append(merged, cur...)
	}
	return cur
}

// splitTagGroup removes top-level groups named group and returns their members.
func splitTagGroup(attrs []slog.Attr, group string) (fields, tagAttrs []slog.Attr) {
	fields = attrs[:0:0]
	for _, a := range attrs {
		if a.Key == group && a.Value.Kind() == slog.KindGroup {
			tagAttrs = append(tagAttrs, a.Value.Group()...)
			continue
		}
		fields = append(fields, a)
	}
	return fields, tagAttrs
}

func (h *Handler) with(goa groupOrAttrs) *Handler {
	h2 := *h
	h2.goas = make([]groupOrAttrs, len(h.goas), len(h.goas)+1)
	copy(h2.goas, h.goas)
	h2.goas = append(h2.goas, goa)
	return &h2
}

// WithAttrs returns a handler that adds attrs to every event.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(groupOrAttrs{attrs: append([]slog.Attr(nil), attrs...)})
}

// WithGroup returns a handler that nests later attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(groupOrAttrs{group: name})
}

// WithLogstore returns a handler sharing this pipeline that sends to another
// logstore of the same project.
func (h *Handler) WithLogstore(logstore string) *Handler {
	if logstore == "" || logstore == h.dest.Logstore {
		return h
	}
	h2 := *h
	h2.dest.Logstore = logstore
	return &h2
}

// Flush seals every open batch and waits until they have been handed to the
// dispatcher or ctx is done.
func (h *Handler) Flush(ctx context.Context) error {
	return h.p.buffer.Flush(ctx)
}

// Close flushes what is buffered and stops the background workers. When ctx
// has no deadline, Options.ShutdownGrace applies. Records still queued at the
// deadline are dropped. Close affects every handler sharing the pipeline.
func (h *Handler) Close(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.p.grace)
		defer cancel()
	}
	if err := h.p.buffer.Close(ctx); err != nil {
		return fmt.Errorf("slslog: close: %w", err)
	}
	return nil
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Emitted      int64
	EmitFailures int64
	Buffer       batch.Stats
	Dispatch     dispatch.Stats
}

// Stats returns the pipeline counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Emitted:      h.p.emitted.Load(),
		EmitFailures: h.p.emitFailures.Load(),
		Buffer:       h.p.buffer.Stats(),
		Dispatch:     h.p.dispatcher.Stats(),
	}
}
