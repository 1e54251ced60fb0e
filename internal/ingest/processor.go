package ingest

import (
	"context"
	"strings"
	"sync"

	"github.com/tinytelemetry/slsink/internal/model"
)

// maxJSONLines bounds multi-line JSON accumulation; a longer object is
// flushed as plain text.
const maxJSONLines = 10_000

// jsonAccumulator joins a JSON object spread over several lines.
type jsonAccumulator struct {
	buf   strings.Builder
	depth int
	lines int
	open  bool
}

// Processor parses lines into entries and emits them to a sink. Multi-line
// JSON objects are accumulated per source.
type Processor struct {
	sink Sink

	mu         sync.Mutex
	sourceName string
	pending    map[string]*jsonAccumulator
}

// NewProcessor creates a parsing processor.
func NewProcessor(sink Sink, sourceName string) *Processor {
	return &Processor{
		sink:       sink,
		sourceName: sourceName,
		pending:    make(map[string]*jsonAccumulator),
	}
}

func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(ctx context.Context, line string) *ProcessResult {
	return p.ProcessEnvelope(ctx, model.IngestEnvelope{Line: line})
}

// ProcessEnvelope parses one source-tagged line. It returns nil while a
// multi-line JSON object is still being accumulated.
func (p *Processor) ProcessEnvelope(ctx context.Context, env model.IngestEnvelope) *ProcessResult {
	p.mu.Lock()
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	text, complete := p.accumulate(source, env.Line)
	p.mu.Unlock()
	if !complete {
		return nil
	}
	return p.processEntry(ctx, source, text)
}

// accumulate returns the text to parse and whether it is complete.
// p.mu must be held.
func (p *Processor) accumulate(source, line string) (string, bool) {
	acc := p.pending[source]
	if acc == nil || !acc.open {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			return line, trimmed != ""
		}
		depth := CountJSONDepth(line)
		if depth <= 0 {
			return line, true
		}
		if acc == nil {
			acc = &jsonAccumulator{}
			p.pending[source] = acc
		}
		acc.open = true
		acc.buf.Reset()
		acc.buf.WriteString(line)
		acc.buf.WriteByte('\n')
		acc.depth = depth
		acc.lines = 1
		return "", false
	}

	acc.buf.WriteString(line)
	acc.buf.WriteByte('\n')
	acc.depth += CountJSONDepth(line)
	acc.lines++
	if acc.depth > 0 && acc.lines < maxJSONLines {
		return "", false
	}
	text := strings.TrimSpace(acc.buf.String())
	acc.open = false
	acc.depth = 0
	acc.lines = 0
	acc.buf.Reset()
	return text, true
}

func (p *Processor) processEntry(ctx context.Context, source, text string) *ProcessResult {
	entries := ParseJSONLogEntries(text)
	if len(entries) == 0 {
		entries = []Entry{CreateFallbackLogEntry(text)}
	}
	for i := range entries {
		entries[i].Source = source
		if p.sink != nil {
			p.sink.Emit(ctx, entries[i])
		}
	}
	return &ProcessResult{Entries: entries}
}

// Flush emits any partially accumulated JSON as plain text.
func (p *Processor) Flush(ctx context.Context) {
	p.mu.Lock()
	var leftovers [][2]string
	for source, acc := range p.pending {
		if acc.open {
			leftovers = append(leftovers, [2]string{source, strings.TrimSpace(acc.buf.String())})
			acc.open = false
			acc.buf.Reset()
		}
	}
	p.mu.Unlock()

	for _, l := range leftovers {
		e := CreateFallbackLogEntry(l[1])
		e.Source = l[0]
		if p.sink != nil {
			p.sink.Emit(ctx, e)
		}
	}
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// SetSourceName updates the default source name for untagged lines.
func (p *Processor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

// PassthroughProcessor skips JSON parsing and ships each line as text.
type PassthroughProcessor struct {
	mu         sync.RWMutex
	sink       Sink
	sourceName string
}

// NewPassthroughProcessor creates a new passthrough processor.
func NewPassthroughProcessor(sink Sink, sourceName string) *PassthroughProcessor {
	return &PassthroughProcessor{
		sink:       sink,
		sourceName: sourceName,
	}
}

func (p *PassthroughProcessor) Name() string { return ProcessorModePassthrough }

// ProcessEnvelope processes one source-tagged line.
func (p *PassthroughProcessor) ProcessEnvelope(ctx context.Context, env model.IngestEnvelope) *ProcessResult {
	if strings.TrimSpace(env.Line) == "" {
		return nil
	}

	source := env.Source
	if source == "" {
		p.mu.RLock()
		source = p.sourceName
		p.mu.RUnlock()
	}

	e := CreateFallbackLogEntry(env.Line)
	e.Source = source
	if p.sink != nil {
		p.sink.Emit(ctx, e)
	}
	return &ProcessResult{Entries: []Entry{e}}
}

// SetSourceName updates the default source name for untagged lines.
func (p *PassthroughProcessor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}
