package model

import "context"

// Sink defines a generic interface for delivering flushed call record
// batches to a persistent store or remote destination.
type Sink interface {
	// Write persists a single batch. Failures are reported as a
	// TransientDeliveryError when a retry may succeed, or a
	// PermanentDeliveryError when it cannot.
	Write(ctx context.Context, batch *Batch) error
}
