// Package dispatch delivers sealed batches to the remote ingestion API with
// retry and backoff, and reports batches that cannot be delivered.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/selflog"
)

// DeliveryError describes a batch that was discarded.
type DeliveryError struct {
	Destination model.Destination
	Records     int
	Attempts    int
	Class       Class
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("dispatch: %d records to %s discarded after %d attempt(s) (%s): %v",
		e.Records, e.Destination, e.Attempts, e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Exhausted reports whether the batch failed only because retries ran out.
func (e *DeliveryError) Exhausted() bool { return e.Class == Transient }

// Config holds dispatcher options.
type Config struct {
	Policy RetryPolicy
	// Logger receives failure reports; selflog.Default when nil.
	Logger *selflog.Logger
	// OnFailure is called once per discarded batch.
	OnFailure func(*DeliveryError)
}

// Dispatcher sends batches through a LogShipper.
type Dispatcher struct {
	shipper   model.LogShipper
	policy    RetryPolicy
	logger    *selflog.Logger
	onFailure func(*DeliveryError)
	sleep     func(ctx context.Context, d time.Duration) error

	deliveredBatches atomic.Int64
	deliveredRecords atomic.Int64
	retries          atomic.Int64
	failedBatches    atomic.Int64
	failedRecords    atomic.Int64
}

// New creates a dispatcher for shipper.
func New(shipper model.LogShipper, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = selflog.Default()
	}
	return &Dispatcher{
		shipper:   shipper,
		policy:    cfg.Policy.withDefaults(),
		logger:    logger,
		onFailure: cfg.OnFailure,
		sleep:     sleepContext,
	}
}

// Policy returns the effective retry policy.
func (d *Dispatcher) Policy() RetryPolicy { return d.policy }

// Send delivers batch in one remote call per attempt. Transient failures are
// retried with backoff up to the policy's attempt limit; terminal failures,
// exhaustion and cancellation are reported and returned as *DeliveryError.
// The batch is never re-sent after a successful attempt.
func (d *Dispatcher) Send(ctx context.Context, batch *model.Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := d.put(ctx, batch)
		if err == nil {
			d.deliveredBatches.Add(1)
			d.deliveredRecords.Add(int64(batch.Len()))
			return nil
		}

		class := Classify(err)
		if ctx.Err() != nil {
			class = Canceled
		}
		if class != Transient || attempt >= d.policy.MaxAttempts {
			return d.fail(batch, attempt, class, err)
		}

		d.retries.Add(1)
		if serr := d.sleep(ctx, d.policy.Backoff(attempt)); serr != nil {
			return d.fail(batch, attempt, Canceled, err)
		}
	}
}

func (d *Dispatcher) put(ctx context.Context, batch *model.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: shipper panicked: %v", r)
		}
	}()
	return d.shipper.PutLogs(ctx, batch.Destination, batch.Records, batch.Tags)
}

func (d *Dispatcher) fail(batch *model.Batch, attempts int, class Class, err error) error {
	derr := &DeliveryError{
		Destination: batch.Destination,
		Records:     batch.Len(),
		Attempts:    attempts,
		Class:       class,
		Err:         err,
	}
	d.failedBatches.Add(1)
	d.failedRecords.Add(int64(batch.Len()))
	d.logger.Printf("%v", derr)

	if d.onFailure != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Printf("dispatch: failure hook panicked: %v", r)
				}
			}()
			d.onFailure(derr)
		}()
	}
	return derr
}

// Stats is a point-in-time view of delivery counters.
type Stats struct {
	DeliveredBatches int64
	DeliveredRecords int64
	Retries          int64
	FailedBatches    int64
	FailedRecords    int64
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		DeliveredBatches: d.deliveredBatches.Load(),
		DeliveredRecords: d.deliveredRecords.Load(),
		Retries:          d.retries.Load(),
		FailedBatches:    d.failedBatches.Load(),
		FailedRecords:    d.failedRecords.Load(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
