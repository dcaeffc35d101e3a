// Package uploader decides when the aggregation store is flushed to a sink
// and carries out the delivery with retry, backoff, and a local fallback.
package uploader

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"goperf/internal/config"
	"goperf/internal/model"
)

// Strategy selects when flushes happen.
type Strategy string

const (
	// StrategyOnExit flushes the entire store exactly once when the session
	// is closed. This is the default.
	StrategyOnExit Strategy = "on_exit"
	// StrategyRealTime flushes immediately after every recorded call.
	StrategyRealTime Strategy = "real_time"
	// StrategyBatch flushes when the store reaches the batch size or the
	// interval elapses, whichever comes first. The time threshold is
	// evaluated lazily on the next recorded call; no timer goroutine is
	// spawned.
	StrategyBatch Strategy = "batch"
	// StrategyManual flushes only when the caller invokes Flush.
	StrategyManual Strategy = "manual"
)

// Source is the view of the aggregation store the controller needs: a
// snapshot of all records, their count, and a removal operation taking the
// delivered snapshot. Discard removes exactly the snapshotted records, so
// records appended while a delivery is in flight survive for the next flush.
type Source interface {
	AllRecords() []model.CallRecord
	Len() int
	Discard([]model.CallRecord)
}

// Controller owns the flush timing and delivery policy for one session.
// Delivery failures never propagate to the recording path; they are
// recovered with retries and the local fallback, and surfaced via logging.
type Controller struct {
	strategy  Strategy
	sink      model.Sink
	fallback  model.Sink // local sink used after exhausted retries; may be nil
	source    Source
	sessionID string
	hostname  string

	batchSize int
	interval  time.Duration
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration

	mu        sync.Mutex
	lastFlush time.Time
}

// New creates a controller from the upload configuration. fallback may be
// nil when the primary sink is itself the local store.
func New(cfg config.UploadConfig, sink, fallback model.Sink, source Source, sessionID, hostname string) (*Controller, error) {
	strategy := Strategy(cfg.Strategy)
	switch strategy {
	case StrategyOnExit, StrategyRealTime, StrategyBatch, StrategyManual:
	default:
		return nil, fmt.Errorf("unknown upload strategy %q", cfg.Strategy)
	}

	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid upload interval: %w", err)
	}
	baseDelay, err := time.ParseDuration(cfg.RetryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid retry base delay: %w", err)
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid upload timeout: %w", err)
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Controller{
		strategy:  strategy,
		sink:      sink,
		fallback:  fallback,
		source:    source,
		sessionID: sessionID,
		hostname:  hostname,
		batchSize: cfg.BatchSize,
		interval:  interval,
		attempts:  attempts,
		baseDelay: baseDelay,
		timeout:   timeout,
		lastFlush: time.Now(),
	}, nil
}

// Strategy returns the selected flush strategy.
func (c *Controller) Strategy() Strategy {
	return c.strategy
}

// RecordAdded is invoked by the call recorder after each stored record. It
// triggers a flush for the real_time strategy, and for the batch strategy
// when either the size or the time threshold has been reached.
func (c *Controller) RecordAdded() {
	switch c.strategy {
	case StrategyRealTime:
		c.Flush()
	case StrategyBatch:
		c.mu.Lock()
		due := c.source.Len() >= c.batchSize || time.Since(c.lastFlush) >= c.interval
		if due {
			c.flushLocked()
		}
		c.mu.Unlock()
	}
}

// Flush delivers the current store contents to the sink. It never returns
// an error: failures are retried, diverted to the local fallback, or (for
// permanent failures) logged and dropped.
func (c *Controller) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Close runs the final flush for every strategy except manual, which by
// contract never flushes unless explicitly invoked.
func (c *Controller) Close() {
	if c.strategy == StrategyManual {
		return
	}
	c.Flush()
}

func (c *Controller) flushLocked() {
	records := c.source.AllRecords()
	if len(records) == 0 {
		return
	}
	batch := model.NewBatch(c.sessionID, c.hostname, records)

	err := c.deliver(context.Background(), batch)
	switch {
	case err == nil:
		c.source.Discard(records)
	case model.IsPermanent(err):
		log.Printf("Dropping batch of %d records after permanent delivery failure: %v", len(records), err)
		c.source.Discard(records)
	default:
		c.divertToFallback(batch)
	}
	c.lastFlush = time.Now()
}

// deliver writes the batch with up to the configured number of attempts,
// sleeping an exponentially growing delay between attempts. Permanent
// failures abort immediately.
func (c *Controller) deliver(ctx context.Context, batch *model.Batch) error {
	delay := c.baseDelay
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(delay)
			delay *= 2
		}
		writeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = c.sink.Write(writeCtx, batch)
		cancel()
		if err == nil {
			return nil
		}
		if model.IsPermanent(err) {
			return err
		}
		log.Printf("Transient delivery failure (attempt %d/%d): %v", attempt, c.attempts, err)
	}
	return err
}

// divertToFallback writes a batch to the local fallback sink after all
// delivery attempts failed, so the data is never silently lost. The batch's
// records are removed from the store only if the fallback write succeeded.
func (c *Controller) divertToFallback(batch *model.Batch) {
	if c.fallback == nil {
		log.Printf("Delivery attempts exhausted and no fallback sink configured; keeping %d records in memory", len(batch.Records))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.fallback.Write(ctx, batch); err != nil {
		log.Printf("Fallback write failed; keeping %d records in memory: %v", len(batch.Records), err)
		return
	}
	log.Printf("Wrote batch of %d records to local fallback after %d failed delivery attempts", len(batch.Records), c.attempts)
	c.source.Discard(batch.Records)
}
