// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package webpush delivers notifications over the encrypted Web Push protocol.
package webpush

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"storj.io/common/sync2"
)

var (
	mon = monkit.Package()

	// Error is the default webpush errs class.
	Error = errs.Class("webpush")

	// ErrConfig is returned when the client is misconfigured.
	ErrConfig = errs.Class("webpush: config")
)

// Config contains the VAPID identity and delivery limits.
type Config struct {
	VAPIDPublicKey  string        `help:"VAPID public key, base64url encoded" default:""`
	VAPIDPrivateKey string        `help:"VAPID private key, base64url encoded" default:""`
	Subscriber      string        `help:"contact (mailto: or https: url) sent to push services" default:""`
	Workers         int           `help:"number of concurrent sends per batch" default:"10"`
	SendTimeout     time.Duration `help:"upper bound of a single send, lowered to the message TTL" default:"30s"`
	RateLimit       float64       `help:"maximum sends per second across all batches, 0 is unlimited" default:"0"`
}

// Client sends Web Push messages.
type Client struct {
	log        *zap.Logger
	config     Config
	httpClient webpushgo.HTTPClient
	limiter    *rate.Limiter
}

var _ pushnotifications.Transport = (*Client)(nil)

// New creates a client. The VAPID identity is required.
func New(log *zap.Logger, config Config, httpClient *http.Client) (*Client, error) {
	if config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "" {
		return nil, ErrConfig.New("VAPID key pair is required")
	}
	if config.Subscriber == "" {
		return nil, ErrConfig.New("VAPID subscriber is required")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(1, int(config.RateLimit)))
	}

	return &Client{
		log:        log,
		config:     config,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// GenerateKeys creates a new VAPID key pair.
func GenerateKeys() (privateKey, publicKey string, err error) {
	privateKey, publicKey, err = webpushgo.GenerateVAPIDKeys()
	return privateKey, publicKey, Error.Wrap(err)
}

// NewBatch implements pushnotifications.Transport.
func (client *Client) NewBatch() pushnotifications.Batch {
	return &batch{client: client}
}

type batch struct {
	client   *Client
	messages []pushnotifications.Message
}

// Enqueue implements pushnotifications.Batch.
func (b *batch) Enqueue(message pushnotifications.Message) error {
	if message.Subscription.Endpoint == "" {
		return Error.New("subscription %s has no endpoint", message.Subscription.ID)
	}
	b.messages = append(b.messages, message)
	return nil
}

// Flush implements pushnotifications.Batch.
func (b *batch) Flush(ctx context.Context) (reports []pushnotifications.DeliveryReport) {
	defer mon.Task()(&ctx)(nil)

	messages := b.messages
	b.messages = nil

	reports = make([]pushnotifications.DeliveryReport, len(messages))
	limiter := sync2.NewLimiter(b.client.config.Workers)
	for i, message := range messages {
		i, message := i, message
		started := limiter.Go(ctx, func() {
			reports[i] = b.client.send(ctx, message)
		})
		if !started {
			reports[i] = reportFor(message)
			reports[i].Reason = "not sent"
			if err := ctx.Err(); err != nil {
				reports[i].Reason = err.Error()
			}
		}
	}
	limiter.Wait()

	return reports
}

func reportFor(message pushnotifications.Message) pushnotifications.DeliveryReport {
	return pushnotifications.DeliveryReport{
		RecordID:       message.RecordID,
		SubscriptionID: message.Subscription.ID,
		Endpoint:       message.Subscription.Endpoint,
	}
}

// send delivers a single message and classifies the response.
func (client *Client) send(ctx context.Context, message pushnotifications.Message) (report pushnotifications.DeliveryReport) {
	report = reportFor(message)

	if err := validateKeys(message.Subscription); err != nil {
		client.log.Info("subscription keys are unusable",
			zap.Stringer("subscription_id", message.Subscription.ID), zap.Error(err))
		report.SubscriptionExpired = true
		report.Reason = pushnotifications.ReasonInvalidKeys
		return report
	}

	if err := client.limiter.Wait(ctx); err != nil {
		report.Reason = err.Error()
		return report
	}

	timeout := client.config.SendTimeout
	if ttl := time.Duration(message.TTL) * time.Second; ttl > 0 && (timeout <= 0 || ttl < timeout) {
		timeout = ttl
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := webpushgo.SendNotificationWithContext(ctx, message.Data, &webpushgo.Subscription{
		Endpoint: message.Subscription.Endpoint,
		Keys: webpushgo.Keys{
			Auth:   message.Subscription.AuthSecret,
			P256dh: message.Subscription.PublicKey,
		},
	}, &webpushgo.Options{
		HTTPClient:      client.httpClient,
		Subscriber:      client.config.Subscriber,
		Topic:           message.Topic,
		TTL:             message.TTL,
		Urgency:         webpushgo.Urgency(message.Urgency),
		VAPIDPublicKey:  client.config.VAPIDPublicKey,
		VAPIDPrivateKey: client.config.VAPIDPrivateKey,
	})
	if err != nil {
		mon.Event("webpush_send_error")
		report.Reason = err.Error()
		return report
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	Classify(resp.StatusCode, &report)
	if !report.Success {
		client.log.Debug("push service rejected message",
			zap.Stringer("record_id", message.RecordID),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", report.Reason))
	}
	return report
}

// validateKeys checks that the message can be encrypted to the subscription.
func validateKeys(sub pushnotifications.Subscription) error {
	p256dh, err := decodeKey(sub.PublicKey)
	if err != nil {
		return Error.New("p256dh: %v", err)
	}
	if _, err := ecdh.P256().NewPublicKey(p256dh); err != nil {
		return Error.New("p256dh: %v", err)
	}

	auth, err := decodeKey(sub.AuthSecret)
	if err != nil {
		return Error.New("auth: %v", err)
	}
	if len(auth) == 0 {
		return Error.New("auth: empty secret")
	}
	return nil
}

// decodeKey accepts the base64 variants browsers and libraries produce.
func decodeKey(key string) ([]byte, error) {
	var firstErr error
	for _, encoding := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding,
	} {
		decoded, err := encoding.DecodeString(key)
		if err == nil {
			return decoded, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Classify fills the outcome of report from a push service response status.
func Classify(statusCode int, report *pushnotifications.DeliveryReport) {
	report.StatusCode = statusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
		report.Success = true
		report.Reason = ""
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		report.SubscriptionExpired = true
		report.Reason = pushnotifications.ReasonExpired
	case statusCode == http.StatusRequestEntityTooLarge:
		report.InvalidPayload = true
		report.Reason = pushnotifications.ReasonPayloadTooLarge
	case statusCode == http.StatusBadRequest:
		report.InvalidPayload = true
		report.Reason = pushnotifications.ReasonInvalidRequest
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		report.Reason = pushnotifications.ReasonUnauthorized
	case statusCode == http.StatusTooManyRequests:
		report.Reason = pushnotifications.ReasonRateLimited
	default:
		report.Reason = fmt.Sprintf("%s: status %d", pushnotifications.ReasonGatewayError, statusCode)
	}
}
