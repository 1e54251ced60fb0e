package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/selflog"
)

type statusErr struct {
	code      int
	throttled bool
}

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) StatusCode() int { return e.code }
func (e *statusErr) Throttled() bool { return e.throttled }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// scriptedShipper fails with the scripted errors in order, then succeeds.
type scriptedShipper struct {
	mu        sync.Mutex
	script    []error
	calls     int
	delivered [][]model.Record
}

func (s *scriptedShipper) PutLogs(_ context.Context, _ model.Destination, records []model.Record, _ model.TagSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		if err != nil {
			return err
		}
	}
	s.delivered = append(s.delivered, records)
	return nil
}

func testBatch(n int) *model.Batch {
	b := &model.Batch{Destination: model.Destination{Project: "p", Logstore: "app"}}
	for i := 0; i < n; i++ {
		b.Records = append(b.Records, model.Record{Fields: []model.Field{{Key: "n", Value: fmt.Sprint(i)}}})
	}
	return b
}

func newTestDispatcher(shipper model.LogShipper, cfg Config) (*Dispatcher, *bytes.Buffer, *[]time.Duration) {
	var diag bytes.Buffer
	cfg.Logger = selflog.New(&diag)
	d := New(shipper, cfg)
	var slept []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return ctx.Err()
	}
	return d, &diag, &slept
}

func TestSend_TransientTwiceThenSuccessDeliversOnce(t *testing.T) {
	shipper := &scriptedShipper{script: []error{timeoutErr{}, &statusErr{code: 503}}}
	d, diag, slept := newTestDispatcher(shipper, Config{Policy: RetryPolicy{MaxAttempts: 5, Jitter: 0.0001}})

	err := d.Send(context.Background(), testBatch(3))
	require.NoError(t, err)

	assert.Equal(t, 3, shipper.calls)
	require.Len(t, shipper.delivered, 1, "exactly one successful delivery")
	assert.Len(t, shipper.delivered[0], 3)
	assert.Len(t, *slept, 2)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.DeliveredBatches)
	assert.Equal(t, int64(3), stats.DeliveredRecords)
	assert.Equal(t, int64(2), stats.Retries)
	assert.Zero(t, stats.FailedBatches)
	assert.Empty(t, diag.String())
}

func TestSend_TerminalErrorIsNotRetried(t *testing.T) {
	shipper := &scriptedShipper{script: []error{&statusErr{code: 401}}}
	var failures []*DeliveryError
	d, diag, slept := newTestDispatcher(shipper, Config{OnFailure: func(e *DeliveryError) { failures = append(failures, e) }})

	err := d.Send(context.Background(), testBatch(2))

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, Terminal, derr.Class)
	assert.Equal(t, 1, derr.Attempts)
	assert.False(t, derr.Exhausted())
	assert.Equal(t, 1, shipper.calls)
	assert.Empty(t, *slept)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Records)
	assert.Contains(t, diag.String(), "discarded after 1 attempt(s) (terminal)")
	assert.Equal(t, int64(2), d.Stats().FailedRecords)
}

func TestSend_ExhaustsRetries(t *testing.T) {
	shipper := &scriptedShipper{script: []error{
		&statusErr{code: 500}, &statusErr{code: 502}, &statusErr{code: 503}, nil,
	}}
	d, _, slept := newTestDispatcher(shipper, Config{Policy: RetryPolicy{MaxAttempts: 3}})

	err := d.Send(context.Background(), testBatch(1))

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.Exhausted())
	assert.Equal(t, 3, derr.Attempts)
	assert.Equal(t, 3, shipper.calls)
	assert.Len(t, *slept, 2)
	assert.Empty(t, shipper.delivered)
}

func TestSend_CancelDuringBackoff(t *testing.T) {
	shipper := &scriptedShipper{script: []error{&statusErr{code: 429}, nil}}
	d := New(shipper, Config{Logger: selflog.New(nil), Policy: RetryPolicy{InitialBackoff: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := d.Send(ctx, testBatch(1))

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, Canceled, derr.Class)
	assert.Equal(t, 1, shipper.calls)
}

func TestSend_ShipperPanicIsTerminal(t *testing.T) {
	shipper := model.LogShipperFunc(func(context.Context, model.Destination, []model.Record, model.TagSet) error {
		panic("nil client")
	})
	d, _, _ := newTestDispatcher(shipper, Config{})

	err := d.Send(context.Background(), testBatch(1))

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, Terminal, derr.Class)
	assert.Contains(t, derr.Error(), "nil client")
}

func TestSend_EmptyBatchIsNoop(t *testing.T) {
	shipper := &scriptedShipper{}
	d, _, _ := newTestDispatcher(shipper, Config{})

	require.NoError(t, d.Send(context.Background(), &model.Batch{}))
	require.NoError(t, d.Send(context.Background(), nil))
	assert.Zero(t, shipper.calls)
}

func TestSend_FailureHookPanicIsContained(t *testing.T) {
	shipper := &scriptedShipper{script: []error{&statusErr{code: 403}}}
	d, diag, _ := newTestDispatcher(shipper, Config{OnFailure: func(*DeliveryError) { panic("hook") }})

	err := d.Send(context.Background(), testBatch(1))
	require.Error(t, err)
	assert.Contains(t, diag.String(), "failure hook panicked")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Terminal},
		{"canceled", context.Canceled, Canceled},
		{"deadline", context.DeadlineExceeded, Transient},
		{"wrapped deadline", fmt.Errorf("put: %w", context.DeadlineExceeded), Transient},
		{"net timeout", timeoutErr{}, Transient},
		{"throttled 403", &statusErr{code: 403, throttled: true}, Transient},
		{"429", &statusErr{code: 429}, Transient},
		{"500", &statusErr{code: 500}, Transient},
		{"401", &statusErr{code: 401}, Terminal},
		{"400", &statusErr{code: 400}, Terminal},
		{"404", fmt.Errorf("wrapped: %w", &statusErr{code: 404}), Terminal},
		{"plain", errors.New("malformed"), Terminal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, Jitter: 0.0001}.withDefaults()

	approx := func(want, got time.Duration) {
		t.Helper()
		assert.InDelta(t, float64(want), float64(got), float64(want)*0.001)
	}
	approx(100*time.Millisecond, p.Backoff(1))
	approx(200*time.Millisecond, p.Backoff(2))
	approx(400*time.Millisecond, p.Backoff(3))
	approx(time.Second, p.Backoff(10))
	approx(time.Second, p.Backoff(10_000))
}

func TestRetryPolicy_JitterBounds(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: time.Second, Jitter: 0.5}.withDefaults()
	for i := 0; i < 200; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 10*time.Second, p.MaxBackoff)
}
