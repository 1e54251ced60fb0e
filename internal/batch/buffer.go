// Package batch accumulates formatted records into per-destination batches
// and hands sealed batches to a sender on background workers.
package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/selflog"
)

// Sender delivers one sealed batch. The buffer calls it from the destination's
// worker goroutine, one batch at a time, in the order batches were sealed.
type Sender interface {
	Send(ctx context.Context, batch *model.Batch) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, batch *model.Batch) error

func (f SenderFunc) Send(ctx context.Context, batch *model.Batch) error { return f(ctx, batch) }

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("batch: buffer closed")

type queuedBatch struct {
	seq   uint64
	batch *model.Batch
}

// builder owns the batch under construction for one destination.
// Everything except the progress fields is guarded by mu.
type builder struct {
	dest model.Destination

	mu      sync.Mutex
	pending []model.Record
	bytes   int
	tags    model.TagSet
	gen     uint64
	timer   *time.Timer
	sealed  uint64 // seq of the last batch queued
	closed  bool
	queue   chan queuedBatch

	progressMu sync.Mutex
	done       uint64              // every seq up to done is handed off or dropped
	finished   map[uint64]struct{} // seqs finished out of order, above done
	progress   chan struct{}
}

// Buffer batches records per destination and dispatches them asynchronously.
// Offer never performs I/O; under the Block policy it may wait up to
// Config.BlockTimeout for queue space.
type Buffer struct {
	sender Sender
	cfg    Config

	mu       sync.RWMutex
	builders map[model.Destination]*builder
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	offered  atomic.Int64
	dropped  atomic.Int64
	sealedN  atomic.Int64
	logger   *selflog.Logger
	overflow *selflog.Throttle
}

// NewBuffer creates a buffer that hands sealed batches to sender.
func NewBuffer(sender Sender, cfg Config) *Buffer {
	ctx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()
	return &Buffer{
		sender:   sender,
		cfg:      cfg,
		builders: make(map[model.Destination]*builder),
		ctx:      ctx,
		cancel:   cancel,
		logger:   cfg.Logger,
		overflow: selflog.NewThrottle(cfg.Logger, 10*time.Second),
	}
}

// Config returns the effective configuration.
func (b *Buffer) Config() Config { return b.cfg }

// Offer appends rec to dest's open batch, sealing it when a threshold is hit.
// Records that cannot be accepted are counted as dropped, never returned.
func (b *Buffer) Offer(dest model.Destination, rec model.Record) {
	b.offered.Add(1)
	bl := b.builder(dest)
	if bl == nil {
		b.drop(dest, 1)
		return
	}

	bl.mu.Lock()
	defer bl.mu.Unlock()

	if bl.closed {
		b.drop(dest, 1)
		return
	}

	// Batches carry one tag set; a different one starts a new batch.
	if len(bl.pending) > 0 && !bl.tags.Equal(rec.Tags) {
		b.sealLocked(bl, model.FlushTags)
	}
	size := rec.Size()
	if len(bl.pending) > 0 && bl.bytes+size > b.cfg.MaxBatchBytes {
		b.sealLocked(bl, model.FlushBytes)
	}

	if len(bl.pending) == 0 {
		bl.tags = rec.Tags
		b.startLingerLocked(bl)
	}
	bl.pending = append(bl.pending, rec)
	bl.bytes += size

	switch {
	case len(bl.pending) >= b.cfg.MaxBatchSize:
		b.sealLocked(bl, model.FlushSize)
	case bl.bytes >= b.cfg.MaxBatchBytes:
		b.sealLocked(bl, model.FlushBytes)
	}
}

func (b *Buffer) builder(dest model.Destination) *builder {
	b.mu.RLock()
	bl, ok := b.builders[dest]
	closed := b.closed
	b.mu.RUnlock()
	if ok {
		return bl
	}
	if closed {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if bl, ok := b.builders[dest]; ok {
		return bl
	}
	bl = &builder{
		dest:     dest,
		pending:  make([]model.Record, 0, min(b.cfg.MaxBatchSize, 256)),
		queue:    make(chan queuedBatch, b.cfg.QueueSize),
		finished: make(map[uint64]struct{}),
		progress: make(chan struct{}),
	}
	b.builders[dest] = bl

	b.wg.Add(1)
	go b.worker(bl)
	return bl
}

// startLingerLocked arms the accumulation timer for the batch that is about
// to receive its first record.
func (b *Buffer) startLingerLocked(bl *builder) {
	bl.gen++
	gen := bl.gen
	bl.timer = time.AfterFunc(b.cfg.MaxLinger, func() {
		b.expire(bl, gen)
	})
}

func (b *Buffer) expire(bl *builder, gen uint64) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.closed || bl.gen != gen || len(bl.pending) == 0 {
		return
	}
	b.sealLocked(bl, model.FlushLinger)
}

// sealLocked turns the open batch into a queued batch. bl.mu must be held;
// holding it while queuing keeps queue order equal to seal order.
func (b *Buffer) sealLocked(bl *builder, reason model.FlushReason) {
	if bl.closed || len(bl.pending) == 0 {
		return
	}
	if bl.timer != nil {
		bl.timer.Stop()
		bl.timer = nil
	}
	bl.gen++

	batch := &model.Batch{
		Destination: bl.dest,
		Tags:        bl.tags,
		Records:     bl.pending,
		Bytes:       bl.bytes,
		ReadyAt:     time.Now(),
		Reason:      reason,
	}
	bl.pending = make([]model.Record, 0, cap(batch.Records))
	bl.bytes = 0
	bl.tags = model.TagSet{}

	b.enqueueLocked(bl, batch)
}

func (b *Buffer) enqueueLocked(bl *builder, batch *model.Batch) {
	item := queuedBatch{seq: bl.sealed + 1, batch: batch}

	select {
	case bl.queue <- item:
		bl.sealed = item.seq
		b.sealedN.Add(1)
		return
	default:
	}

	switch b.cfg.Overflow {
	case Block:
		timer := time.NewTimer(b.cfg.BlockTimeout)
		defer timer.Stop()
		select {
		case bl.queue <- item:
			bl.sealed = item.seq
			b.sealedN.Add(1)
		case <-timer.C:
			b.overflow.Printf("dispatch queue for %s full after %s, dropping batch of %d records", bl.dest, b.cfg.BlockTimeout, batch.Len())
			b.drop(bl.dest, batch.Len())
		case <-b.ctx.Done():
			b.drop(bl.dest, batch.Len())
		}
	default:
		// Evict only while the queue is still full.
		for {
			select {
			case bl.queue <- item:
				bl.sealed = item.seq
				b.sealedN.Add(1)
				return
			default:
			}
			select {
			case old := <-bl.queue:
				b.overflow.Printf("dispatch queue for %s full, dropping oldest batch of %d records", bl.dest, old.batch.Len())
				b.drop(bl.dest, old.batch.Len())
				bl.complete(old.seq)
			default:
			}
		}
	}
}

func (b *Buffer) worker(bl *builder) {
	defer b.wg.Done()
	for item := range bl.queue {
		if b.ctx.Err() != nil {
			b.drop(bl.dest, item.batch.Len())
			bl.complete(item.seq)
			continue
		}
		_ = b.sender.Send(b.ctx, item.batch)
		bl.complete(item.seq)
	}
}

// complete marks seq as finished. done only advances over a contiguous run,
// so evicting a queued batch never reports a lower in-flight seq as finished.
func (bl *builder) complete(seq uint64) {
	bl.progressMu.Lock()
	defer bl.progressMu.Unlock()
	if seq <= bl.done {
		return
	}
	bl.finished[seq] = struct{}{}
	advanced := false
	for {
		if _, ok := bl.finished[bl.done+1]; !ok {
			break
		}
		delete(bl.finished, bl.done+1)
		bl.done++
		advanced = true
	}
	if advanced {
		close(bl.progress)
		bl.progress = make(chan struct{})
	}
}

func (bl *builder) waitFor(ctx context.Context, seq uint64) error {
	for {
		bl.progressMu.Lock()
		if bl.done >= seq {
			bl.progressMu.Unlock()
			return nil
		}
		ch := bl.progress
		bl.progressMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Buffer) drop(dest model.Destination, n int) {
	if n <= 0 {
		return
	}
	b.dropped.Add(int64(n))
	if b.cfg.OnDrop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("batch: drop hook panicked for %s: %v", dest, r)
		}
	}()
	b.cfg.OnDrop(dest, n)
}

func (b *Buffer) snapshot() []*builder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*builder, 0, len(b.builders))
	for _, bl := range b.builders {
		out = append(out, bl)
	}
	return out
}

// Flush seals every open batch and waits until all batches queued so far have
// been handed to the sender, or ctx is done.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	builders := b.snapshot()
	targets := make([]uint64, len(builders))
	for i, bl := range builders {
		bl.mu.Lock()
		b.sealLocked(bl, model.FlushManual)
		targets[i] = bl.sealed
		bl.mu.Unlock()
	}
	for i, bl := range builders {
		if err := bl.waitFor(ctx, targets[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close seals every open batch, stops accepting records and waits for the
// workers to hand off what is queued. When ctx ends first, in-flight sends
// are canceled and the remaining batches are counted as dropped. Close is
// idempotent; later calls return the first result.
func (b *Buffer) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		for _, bl := range b.snapshot() {
			bl.mu.Lock()
			b.sealLocked(bl, model.FlushShutdown)
			bl.closed = true
			close(bl.queue)
			bl.mu.Unlock()
		}

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			select {
			case <-done:
			default:
				b.closeErr = ctx.Err()
				b.cancel()
				<-done
			}
		}
		b.cancel()
	})
	return b.closeErr
}

// DestinationStats describes one destination's buffer state.
type DestinationStats struct {
	Destination   model.Destination
	Pending       int
	QueuedBatches int
}

// Stats is a point-in-time view of the buffer.
type Stats struct {
	Offered       int64
	Dropped       int64
	SealedBatches int64
	Destinations  []DestinationStats
}

// Stats returns counters and per-destination queue depth.
func (b *Buffer) Stats() Stats {
	s := Stats{
		Offered:       b.offered.Load(),
		Dropped:       b.dropped.Load(),
		SealedBatches: b.sealedN.Load(),
	}
	for _, bl := range b.snapshot() {
		bl.mu.Lock()
		ds := DestinationStats{
			Destination:   bl.dest,
			Pending:       len(bl.pending),
			QueuedBatches: len(bl.queue),
		}
		bl.mu.Unlock()
		s.Destinations = append(s.Destinations, ds)
	}
	return s
}
