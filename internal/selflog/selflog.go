// Package selflog is the sink's diagnostic side-channel. Sink failures are
// written here instead of to the application's own slog handler so a failing
// destination can never feed back into itself.
package selflog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const defaultPrefix = "slsink: "

// Logger writes diagnostics. The zero value is not usable; use New or Default.
type Logger struct {
	mu  sync.Mutex
	out *log.Logger
}

// New returns a Logger writing to w. A nil w discards output.
func New(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{out: log.New(w, defaultPrefix, log.LstdFlags|log.Lmicroseconds)}
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr))
}

// Default returns the process-wide diagnostic logger.
func Default() *Logger { return defaultLogger.Load() }

// SetDefault replaces the process-wide diagnostic logger.
func SetDefault(l *Logger) {
	if l == nil {
		l = New(nil)
	}
	defaultLogger.Store(l)
}

// SetOutput redirects the default logger to w.
func SetOutput(w io.Writer) { SetDefault(New(w)) }

// Printf writes one diagnostic line. It never panics on a bad writer.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		l = Default()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() { _ = recover() }()
	_ = l.out.Output(2, fmt.Sprintf(format, args...))
}

// Printf writes to the default logger.
func Printf(format string, args ...any) { Default().Printf(format, args...) }

// Throttle limits a recurring report to one line per interval and counts
// the occurrences folded into each line.
type Throttle struct {
	logger     *Logger
	sometimes  rate.Sometimes
	suppressed atomic.Int64
}

// NewThrottle reports through l (Default when nil) at most once per interval.
func NewThrottle(l *Logger, interval time.Duration) *Throttle {
	return &Throttle{
		logger:    l,
		sometimes: rate.Sometimes{Interval: interval},
	}
}

// Printf reports now or folds this occurrence into the next report.
func (t *Throttle) Printf(format string, args ...any) {
	t.suppressed.Add(1)
	t.sometimes.Do(func() {
		n := t.suppressed.Swap(0)
		msg := fmt.Sprintf(format, args...)
		if n > 1 {
			msg = fmt.Sprintf("%s (%d occurrences since last report)", msg, n)
		}
		t.logger.Printf("%s", msg)
	})
}
