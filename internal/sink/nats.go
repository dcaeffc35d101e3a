package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"goperf/internal/config"
	"goperf/internal/model"
)

// StreamSink publishes each flushed batch as a JSON message on a NATS
// subject, for live consumers that want uploads as they happen.
type StreamSink struct {
	nc      *nats.Conn
	subject string
}

// NewStreamSink connects to the NATS server.
func NewStreamSink(cfg config.NATSConfig) (*StreamSink, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &StreamSink{nc: nc, subject: cfg.Subject}, nil
}

// Write serializes the batch and publishes it. Connection and flush
// failures are transient: the server may come back.
func (s *StreamSink) Write(ctx context.Context, batch *model.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return model.Permanent(fmt.Errorf("failed to marshal batch: %w", err))
	}

	if err := s.nc.Publish(s.subject, data); err != nil {
		return model.Transient(fmt.Errorf("failed to publish batch: %w", err))
	}

	// Round-trip to the server so a dead connection surfaces here rather
	// than silently dropping the batch.
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := s.nc.FlushTimeout(timeout); err != nil {
		return model.Transient(fmt.Errorf("failed to flush publication: %w", err))
	}

	log.Printf("Published batch of %d records to subject %s", batch.TotalCalls, s.subject)
	return nil
}

// Close drains and closes the NATS connection.
func (s *StreamSink) Close() {
	if s.nc != nil {
		s.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
