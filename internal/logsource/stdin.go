package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"

	"github.com/tinytelemetry/slsink/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024 // 1MB
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// StdinSource reads log lines from stdin.
type StdinSource struct {
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	closer io.Closer
	once   sync.Once
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

// newStdinSourceWithReader reads from r instead of os.Stdin. When r is an
// io.Closer, Stop closes it to unblock a pending read.
func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	bufferSize := DefaultStdinBuffer
	maxLineSize := DefaultStdinMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
	}
	if c, ok := r.(io.Closer); ok && r != io.Reader(os.Stdin) {
		s.closer = c
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

// read scans r until EOF, a scan error or cancellation. A blocked read on a
// reader without a closer only ends with the process.
func (s *StdinSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(maxLineSize, 64*1024)), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case s.ch <- model.IngestEnvelope{Source: s.Name(), Line: line}:
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	switch err := scanner.Err(); {
	case errors.Is(err, bufio.ErrTooLong):
		log.Printf("logsource: stdin line exceeded max size (%d bytes), stopping stdin source", maxLineSize)
	case err != nil:
		log.Printf("logsource: stdin read error: %v", err)
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Name() string                       { return "stdin" }

// Stop cancels the reader. It is idempotent.
func (s *StdinSource) Stop() {
	s.once.Do(func() {
		s.cancel()
		if s.closer != nil {
			_ = s.closer.Close()
		}
	})
}
