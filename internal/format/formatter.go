// Package format renders log events into flat, string-valued records.
package format

import (
	"log/slog"
	"strings"
	"time"

	"github.com/tinytelemetry/slsink/internal/model"
)

// Record field names produced by the formatter.
const (
	FieldMessage   = "message"
	FieldLevel     = "level"
	FieldException = "exception"
)

// Event is one log event as seen by the formatter.
// Attrs may contain groups; they are flattened with "." separators.
type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
	Err     error
}

// Formatter renders an event into a record. Implementations must not fail:
// an unrenderable value degrades to a best-effort string.
type Formatter interface {
	Format(ev Event) model.Record
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(ev Event) model.Record

func (f FormatterFunc) Format(ev Event) model.Record { return f(ev) }

// TemplateFormatter renders the message field through an output template and
// copies every attribute into its own field.
type TemplateFormatter struct {
	tmpl *Template
	loc  *time.Location
}

// NewTemplateFormatter parses template (model.DefaultOutputTemplate when empty).
// loc controls {Timestamp} rendering; nil keeps the event's own location.
func NewTemplateFormatter(template string, loc *time.Location) (*TemplateFormatter, error) {
	if template == "" {
		template = model.DefaultOutputTemplate
	}
	tmpl, err := ParseTemplate(template)
	if err != nil {
		return nil, err
	}
	return &TemplateFormatter{tmpl: tmpl, loc: loc}, nil
}

// Template returns the parsed output template.
func (f *TemplateFormatter) Template() *Template { return f.tmpl }

// Format implements Formatter.
func (f *TemplateFormatter) Format(ev Event) model.Record {
	props := flatten(nil, "", ev.Attrs)

	message := f.tmpl.render(func(token, spec string) string {
		return f.resolve(&ev, props, token, spec)
	})

	fields := make([]model.Field, 0, len(props)+3)
	fields = append(fields,
		model.Field{Key: FieldMessage, Value: message},
		model.Field{Key: FieldLevel, Value: ev.Level.String()},
	)
	for _, p := range props {
		switch p.Key {
		case FieldMessage, FieldLevel, FieldException:
			p.Key = "_" + p.Key
		}
		fields = append(fields, p)
	}
	if ev.Err != nil {
		fields = append(fields, model.Field{Key: FieldException, Value: renderAny(ev.Err)})
	}

	return model.Record{Time: ev.Time, Fields: fields}
}

func (f *TemplateFormatter) resolve(ev *Event, props []model.Field, token, spec string) string {
	switch token {
	case TokenMessage:
		return ev.Message
	case TokenLevel:
		return formatLevel(ev.Level, spec)
	case TokenTimestamp:
		ts := ev.Time
		if f.loc != nil {
			ts = ts.In(f.loc)
		}
		if spec == "" {
			spec = time.RFC3339Nano
		}
		return ts.Format(spec)
	case TokenNewLine:
		return "\n"
	case TokenException:
		if ev.Err == nil {
			return ""
		}
		return renderAny(ev.Err)
	case TokenProperties:
		return renderProperties(props)
	default:
		for _, p := range props {
			if p.Key == token {
				return p.Value
			}
		}
		return ""
	}
}

// flatten appends attrs to dst as dot-qualified fields, following slog's
// rules: empty attrs are skipped, empty groups vanish, and a group with an
// empty key is inlined.
func flatten(dst []model.Field, prefix string, attrs []slog.Attr) []model.Field {
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		if a.Key == "" && a.Value.Kind() == slog.KindAny && a.Value.Any() == nil {
			continue
		}
		if a.Value.Kind() == slog.KindGroup {
			group := a.Value.Group()
			if len(group) == 0 {
				continue
			}
			next := prefix
			if a.Key != "" {
				next = prefix + a.Key + "."
			}
			dst = flatten(dst, next, group)
			continue
		}
		dst = append(dst, model.Field{Key: prefix + a.Key, Value: renderValue(a.Value)})
	}
	return dst
}

func renderProperties(props []model.Field) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range props {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// errorKeys are the attribute keys conventionally carrying an event's exception.
var errorKeys = map[string]bool{"error": true, "err": true, "exception": true}

// FindError returns the first top-level attribute under a conventional error
// key whose value is an error.
func FindError(attrs []slog.Attr) error {
	for _, a := range attrs {
		if !errorKeys[a.Key] {
			continue
		}
		v := a.Value.Resolve()
		if v.Kind() != slog.KindAny {
			continue
		}
		if err, ok := v.Any().(error); ok && err != nil {
			return err
		}
	}
	return nil
}
