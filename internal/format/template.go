package format

import (
	"errors"
	"fmt"
	"strings"
)

// Template tokens understood by the formatter. Any other token name renders
// the event attribute with that (dot-flattened) key.
const (
	TokenTimestamp  = "Timestamp"
	TokenLevel      = "Level"
	TokenMessage    = "Message"
	TokenNewLine    = "NewLine"
	TokenException  = "Exception"
	TokenProperties = "Properties"
)

// ErrEmptyToken is returned for a "{}" or "{:fmt}" hole.
var ErrEmptyToken = errors.New("format: empty template token")

type segment struct {
	literal string
	token   string
	format  string
	hole    bool
}

// Template is a parsed output template such as
// "{Timestamp:15:04:05} [{Level:u3}] {Message}{NewLine}{Exception}".
type Template struct {
	raw  string
	segs []segment
}

// ParseTemplate parses s. "{{" and "}}" escape literal braces; an unterminated
// hole is an error so misconfiguration fails at construction time.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{raw: s}
	var lit strings.Builder

	flushLiteral := func() {
		if lit.Len() > 0 {
			t.segs = append(t.segs, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("format: unterminated token at offset %d in %q", i, s)
			}
			body := s[i+1 : i+1+end]
			name, spec, _ := strings.Cut(body, ":")
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("%w at offset %d in %q", ErrEmptyToken, i, s)
			}
			if strings.ContainsAny(name, "{ ") {
				return nil, fmt.Errorf("format: invalid token %q at offset %d", body, i)
			}
			flushLiteral()
			t.segs = append(t.segs, segment{token: name, format: spec, hole: true})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flushLiteral()
	return t, nil
}

// MustParseTemplate is ParseTemplate for package-level defaults.
func MustParseTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// Tokens lists the hole names in order of appearance.
func (t *Template) Tokens() []string {
	var out []string
	for _, s := range t.segs {
		if s.hole {
			out = append(out, s.token)
		}
	}
	return out
}

// render writes the template using resolve for every hole.
func (t *Template) render(resolve func(token, format string) string) string {
	if len(t.segs) == 1 && !t.segs[0].hole {
		return t.segs[0].literal
	}
	var b strings.Builder
	for _, s := range t.segs {
		if !s.hole {
			b.WriteString(s.literal)
			continue
		}
		b.WriteString(resolve(s.token, s.format))
	}
	return b.String()
}
