// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"time"

	"storj.io/common/memory"
)

// Config contains configurable values for the delivery pipeline.
type Config struct {
	ChunkSize  int `help:"number of subscriptions read from the registry at a time" default:"100"`
	BatchSize  int `help:"number of messages handed to the transport per flush" default:"50"`
	MaxRetries int `help:"maximum number of delivery retries of a notification" default:"3"`

	MaxSubscriptionFailures int `help:"consecutive failures after which a subscription is deactivated, 0 disables" default:"10"`

	DefaultIcon    string      `help:"icon used when a notification does not set one" default:"/icons/icon-192x192.png"`
	Badge          string      `help:"badge shown with every notification" default:"/icons/badge-72x72.png"`
	MaxPayloadSize memory.Size `help:"maximum size of an encoded payload" default:"4KB"`

	Retry       RetryConfig
	Maintenance MaintenanceConfig
}

// RetryConfig contains configurable values for the retry chore.
type RetryConfig struct {
	Interval    time.Duration `help:"how often failed notifications are retried" releaseDefault:"5m" devDefault:"1m" testDefault:"$TESTINTERVAL"`
	Window      time.Duration `help:"only notifications created within this window are retried" default:"24h"`
	BatchLimit  int           `help:"maximum number of notifications retried per pass" default:"1000"`
	BaseBackoff time.Duration `help:"base delay before a failed urgent notification is retried, 0 disables backoff" default:"30s"`
	MaxBackoff  time.Duration `help:"maximum delay before a failed notification is retried" default:"1h"`
}

// MaintenanceConfig contains configurable values for the maintenance chore.
type MaintenanceConfig struct {
	Interval              time.Duration `help:"how often maintenance runs" releaseDefault:"24h" devDefault:"1h" testDefault:"$TESTINTERVAL"`
	RecordRetentionDays   int           `help:"number of days finished notification records are kept" default:"90"`
	SubscriptionRetention time.Duration `help:"how long inactive subscriptions are kept" default:"720h"`
	StaleGrace            time.Duration `help:"extra time after the TTL before a sent notification without a report is failed" default:"5m"`
}

// normalize fills in values that cannot be zero.
func (config Config) normalize() Config {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 100
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Retry.BatchLimit <= 0 {
		config.Retry.BatchLimit = 1000
	}
	return config
}
