package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
)

// Class is the retry classification of a delivery error.
type Class int

const (
	// Terminal errors are surfaced immediately without retry.
	Terminal Class = iota
	// Transient errors are retried with backoff.
	Transient
	// Canceled means the sink is shutting down.
	Canceled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Canceled:
		return "canceled"
	default:
		return "terminal"
	}
}

// StatusCoder is implemented by remote errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Throttler is implemented by remote errors that can signal throttling.
type Throttler interface {
	Throttled() bool
}

type temporary interface {
	Temporary() bool
}

// Classify decides whether err is worth retrying. The shipper's own errors
// take precedence through Throttler, temporary and StatusCoder; network
// failures and timeouts are transient; everything else is terminal.
func Classify(err error) Class {
	if err == nil {
		return Terminal
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}

	var th Throttler
	if errors.As(err, &th) && th.Throttled() {
		return Transient
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return Transient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Terminal
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return Transient
	case code >= 500:
		return Transient
	default:
		return Terminal
	}
}
