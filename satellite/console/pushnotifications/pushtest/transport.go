// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pushtest contains an in-memory transport for tests.
package pushtest

import (
	"context"
	"net/http"
	"sync"

	"github.com/zeebo/errs"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
)

// Outcome is the scripted result of sending to an endpoint.
type Outcome int

const (
	// Success reports the message as delivered.
	Success Outcome = iota
	// Transient reports a retryable gateway failure.
	Transient
	// Expired reports the subscription as gone.
	Expired
	// InvalidPayload reports the message as rejected.
	InvalidPayload
	// NoReport drops the report.
	NoReport
	// Reject fails Enqueue.
	Reject
)

// Transport records sent messages and answers with scripted outcomes.
// Endpoints without an outcome succeed.
type Transport struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	sent     []pushnotifications.Message
	flushes  int
}

var _ pushnotifications.Transport = (*Transport)(nil)

// New creates an empty transport.
func New() *Transport {
	return &Transport{outcomes: map[string]Outcome{}}
}

// SetOutcome scripts the result of sending to endpoint.
func (transport *Transport) SetOutcome(endpoint string, outcome Outcome) {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	transport.outcomes[endpoint] = outcome
}

// Sent returns every message flushed so far.
func (transport *Transport) Sent() []pushnotifications.Message {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return append([]pushnotifications.Message(nil), transport.sent...)
}

// SentTo returns the number of messages flushed to endpoint.
func (transport *Transport) SentTo(endpoint string) int {
	transport.mu.Lock()
	defer transport.mu.Unlock()

	var count int
	for _, message := range transport.sent {
		if message.Subscription.Endpoint == endpoint {
			count++
		}
	}
	return count
}

// Flushes returns the number of flushed batches.
func (transport *Transport) Flushes() int {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return transport.flushes
}

func (transport *Transport) outcome(endpoint string) Outcome {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return transport.outcomes[endpoint]
}

// NewBatch implements pushnotifications.Transport.
func (transport *Transport) NewBatch() pushnotifications.Batch {
	return &batch{transport: transport}
}

type batch struct {
	transport *Transport
	messages  []pushnotifications.Message
}

// Enqueue implements pushnotifications.Batch.
func (b *batch) Enqueue(message pushnotifications.Message) error {
	if b.transport.outcome(message.Subscription.Endpoint) == Reject {
		return errs.New("rejected %q", message.Subscription.Endpoint)
	}
	b.messages = append(b.messages, message)
	return nil
}

// Flush implements pushnotifications.Batch.
func (b *batch) Flush(ctx context.Context) []pushnotifications.DeliveryReport {
	messages := b.messages
	b.messages = nil

	b.transport.mu.Lock()
	b.transport.sent = append(b.transport.sent, messages...)
	b.transport.flushes++
	b.transport.mu.Unlock()

	reports := make([]pushnotifications.DeliveryReport, 0, len(messages))
	for _, message := range messages {
		report := pushnotifications.DeliveryReport{
			RecordID:       message.RecordID,
			SubscriptionID: message.Subscription.ID,
			Endpoint:       message.Subscription.Endpoint,
		}

		switch b.transport.outcome(message.Subscription.Endpoint) {
		case Success:
			report.Success = true
			report.StatusCode = http.StatusCreated
		case Transient:
			report.StatusCode = http.StatusServiceUnavailable
			report.Reason = pushnotifications.ReasonGatewayError
		case Expired:
			report.StatusCode = http.StatusGone
			report.SubscriptionExpired = true
			report.Reason = pushnotifications.ReasonExpired
		case InvalidPayload:
			report.StatusCode = http.StatusRequestEntityTooLarge
			report.InvalidPayload = true
			report.Reason = pushnotifications.ReasonPayloadTooLarge
		case NoReport:
			continue
		}
		reports = append(reports, report)
	}
	return reports
}
