package model

import "context"

// LogShipper is the remote ingestion capability used by the dispatcher.
// Implementations own their transport, authentication and transport-level retries.
type LogShipper interface {
	PutLogs(ctx context.Context, dest Destination, records []Record, tags TagSet) error
}

// LogShipperFunc adapts a function to LogShipper.
type LogShipperFunc func(ctx context.Context, dest Destination, records []Record, tags TagSet) error

func (f LogShipperFunc) PutLogs(ctx context.Context, dest Destination, records []Record, tags TagSet) error {
	return f(ctx, dest, records, tags)
}
