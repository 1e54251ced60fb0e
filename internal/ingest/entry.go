package ingest

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Entry is one log event recovered from an input, ready to become a slog record.
type Entry struct {
	// Time is the event's own timestamp; zero when the input carried none.
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
	// Tags are emitted inside the handler's tag group.
	Tags   map[string]string
	Source string
}

// Record converts the entry into a slog record. Tags are nested under
// tagGroup so a slslog handler ships them as log-group tags.
func (e Entry) Record(tagGroup string) slog.Record {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	r := slog.NewRecord(ts, e.Level, e.Message, 0)
	r.AddAttrs(e.Attrs...)
	if e.Source != "" {
		r.AddAttrs(slog.String("source", e.Source))
	}
	if len(e.Tags) > 0 && tagGroup != "" {
		tags := make([]any, 0, len(e.Tags))
		for _, k := range slices.Sorted(maps.Keys(e.Tags)) {
			tags = append(tags, slog.String(k, e.Tags[k]))
		}
		r.AddAttrs(slog.Group(tagGroup, tags...))
	}
	return r
}

// HandlerSink emits entries through a slog.Handler.
type HandlerSink struct {
	Handler  slog.Handler
	TagGroup string
}

// Emit implements Sink. Entries below the handler's level are skipped.
func (s HandlerSink) Emit(ctx context.Context, e Entry) {
	if !s.Handler.Enabled(ctx, e.Level) {
		return
	}
	_ = s.Handler.Handle(ctx, e.Record(s.TagGroup))
}
