// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
)

// Transport delivers messages to a push gateway.
type Transport interface {
	// NewBatch starts a new set of staged messages.
	NewBatch() Batch
}

// Batch stages messages and sends them together.
type Batch interface {
	// Enqueue stages a message without sending it.
	Enqueue(message Message) error
	// Flush sends every staged message and returns one report per message.
	// The batch is empty afterwards.
	Flush(ctx context.Context) []DeliveryReport
}
