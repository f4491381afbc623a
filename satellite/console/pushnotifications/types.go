// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"time"

	"storj.io/common/uuid"
)

// Status is the delivery state of a Record.
type Status string

const (
	// StatusPending is the initial state of a record, before it is handed to a transport.
	StatusPending Status = "pending"
	// StatusSent means the transport accepted the message and a report is outstanding.
	StatusSent Status = "sent"
	// StatusDelivered means the push gateway confirmed the message.
	StatusDelivered Status = "delivered"
	// StatusFailed means the last attempt failed.
	StatusFailed Status = "failed"
)

// Priority controls the transport hints used for a notification.
type Priority string

// Priority values.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every known priority.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// Valid returns whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Category is a free-form classification tag of a notification.
type Category string

// Well known categories.
const (
	CategorySystem        Category = "system"
	CategoryMarketing     Category = "marketing"
	CategoryTransactional Category = "transactional"
	CategoryReminder      Category = "reminder"
	CategoryAlert         Category = "alert"
)

// Categories lists the well known categories.
var Categories = []Category{CategorySystem, CategoryMarketing, CategoryTransactional, CategoryReminder, CategoryAlert}

// Urgency is the Web Push urgency hint.
type Urgency string

// Urgency values.
const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Platform identifies the kind of device behind a subscription.
type Platform string

// Platform values.
const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Native returns whether the platform is served by a native push gateway.
func (p Platform) Native() bool {
	return p == PlatformAndroid || p == PlatformIOS
}

// Subscription is a registered device endpoint of a user.
type Subscription struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Endpoint   string
	PublicKey  string
	AuthSecret string
	Platform   Platform
	UserAgent  string

	IsActive      bool
	FailureCount  int
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Content is the user visible part of a notification.
type Content struct {
	Title string
	Body  string
	Icon  string
	Image string
	URL   string
	Tag   string
	Data  map[string]interface{}
}

// NewRecord contains the fields needed to create a Record.
type NewRecord struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	Content        Content
	Priority       Priority
	Category       Category
	CreatedAt      time.Time
}

// Record tracks one delivery of a notification to one subscription.
type Record struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SubscriptionID uuid.UUID

	Content  Content
	Priority Priority
	Category Category

	Status     Status
	RetryCount int
	// Permanent is set when the record failed for a reason retrying cannot fix.
	Permanent bool
	LastError string

	CreatedAt   time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time
	ClickedAt   *time.Time
}

// Terminal returns whether the record will not change state again given maxRetries.
func (record Record) Terminal(maxRetries int) bool {
	switch record.Status {
	case StatusDelivered:
		return true
	case StatusFailed:
		return record.Permanent || record.RetryCount >= maxRetries
	}
	return false
}

// DeliveryReport is the outcome of sending one message.
type DeliveryReport struct {
	RecordID       uuid.UUID
	SubscriptionID uuid.UUID
	Endpoint       string

	Success bool
	Reason  string
	// SubscriptionExpired is set when the gateway reports the endpoint as permanently gone.
	SubscriptionExpired bool
	// InvalidPayload is set when the gateway rejected the message itself.
	InvalidPayload bool
	StatusCode     int
}

// Failure reasons recorded by the pipeline.
const (
	ReasonExpired              = "expired"
	ReasonPayloadTooLarge      = "payload-too-large"
	ReasonInvalidRequest       = "invalid-request"
	ReasonInvalidKeys          = "invalid-subscription-keys"
	ReasonUnauthorized         = "unauthorized"
	ReasonRateLimited          = "rate-limited"
	ReasonGatewayError         = "gateway-error"
	ReasonNoReport             = "no delivery report"
	ReasonSubscriptionInactive = "subscription inactive"
)
