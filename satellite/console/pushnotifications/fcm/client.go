// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package fcm delivers notifications to native devices through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
)

var (
	mon = monkit.Package()

	// Error is the default fcm errs class.
	Error = errs.Class("fcm")
)

// maxSendEach is the largest number of messages FCM accepts in one SendEach call.
const maxSendEach = 500

// Config contains FCM configuration.
type Config struct {
	Enabled         bool   `help:"enable FCM push notifications" default:"false"`
	ProjectID       string `help:"Firebase project ID" default:""`
	CredentialsPath string `help:"path to Firebase service account credentials JSON" default:""`
	CredentialsJSON string `help:"Firebase credentials as JSON string (alternative to path)" default:""`
}

// Sender sends a set of messages. It is implemented by *messaging.Client.
type Sender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// Client delivers messages through FCM.
type Client struct {
	log    *zap.Logger
	sender Sender
	// kind maps a send error to its outcome.
	kind func(error) errorKind
}

var _ pushnotifications.Transport = (*Client)(nil)

// New creates a client from the Firebase configuration.
func New(ctx context.Context, log *zap.Logger, config Config) (*Client, error) {
	if !config.Enabled {
		return nil, Error.New("FCM push notifications are disabled")
	}

	opts, err := createFirebaseOptions(config)
	if err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: config.ProjectID,
	}, opts...)
	if err != nil {
		return nil, Error.New("failed to initialize Firebase app: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, Error.New("failed to create FCM messaging client: %v", err)
	}

	log.Info("FCM push notifications initialized", zap.String("project_id", config.ProjectID))
	return NewWithSender(log, client), nil
}

// NewWithSender creates a client that sends through sender.
func NewWithSender(log *zap.Logger, sender Sender) *Client {
	return &Client{log: log, sender: sender, kind: kindOf}
}

// createFirebaseOptions creates Firebase client options based on config.
func createFirebaseOptions(config Config) ([]option.ClientOption, error) {
	switch {
	case config.CredentialsPath != "":
		return []option.ClientOption{option.WithCredentialsFile(config.CredentialsPath)}, nil
	case config.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(config.CredentialsJSON))}, nil
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return []option.ClientOption{}, nil // Use default credentials
	default:
		return nil, Error.New("Firebase credentials not provided")
	}
}

// NewBatch implements pushnotifications.Transport.
func (client *Client) NewBatch() pushnotifications.Batch {
	return &batch{client: client}
}

type batch struct {
	client   *Client
	staged   []pushnotifications.Message
	messages []*messaging.Message
}

// Enqueue implements pushnotifications.Batch.
func (b *batch) Enqueue(message pushnotifications.Message) error {
	if message.Subscription.Endpoint == "" {
		return Error.New("subscription %s has no registration token", message.Subscription.ID)
	}
	b.staged = append(b.staged, message)
	b.messages = append(b.messages, buildMessage(message))
	return nil
}

// Flush implements pushnotifications.Batch.
func (b *batch) Flush(ctx context.Context) (reports []pushnotifications.DeliveryReport) {
	defer mon.Task()(&ctx)(nil)

	staged, messages := b.staged, b.messages
	b.staged, b.messages = nil, nil

	reports = make([]pushnotifications.DeliveryReport, 0, len(staged))
	for start := 0; start < len(messages); start += maxSendEach {
		end := min(start+maxSendEach, len(messages))

		response, err := b.client.sender.SendEach(ctx, messages[start:end])
		for i, message := range staged[start:end] {
			report := pushnotifications.DeliveryReport{
				RecordID:       message.RecordID,
				SubscriptionID: message.Subscription.ID,
				Endpoint:       message.Subscription.Endpoint,
			}
			switch {
			case err != nil:
				report.Reason = err.Error()
			case response == nil || i >= len(response.Responses) || response.Responses[i] == nil:
				report.Reason = pushnotifications.ReasonNoReport
			default:
				b.client.classify(response.Responses[i], &report)
			}
			reports = append(reports, report)
		}
		if err != nil {
			b.client.log.Warn("failed to send notifications", zap.Int("count", end-start), zap.Error(err))
		}
	}
	return reports
}

// errorKind is the outcome of a failed FCM send.
type errorKind int

const (
	// errorTransient may succeed when retried.
	errorTransient errorKind = iota
	// errorUnregistered means the registration token is gone.
	errorUnregistered
	// errorInvalidMessage means FCM rejected the message itself.
	errorInvalidMessage
)

func kindOf(err error) errorKind {
	switch {
	case messaging.IsUnregistered(err) || messaging.IsRegistrationTokenNotRegistered(err):
		return errorUnregistered
	case messaging.IsInvalidArgument(err):
		return errorInvalidMessage
	default:
		return errorTransient
	}
}

// classify fills the outcome of report from a FCM send response.
func (client *Client) classify(response *messaging.SendResponse, report *pushnotifications.DeliveryReport) {
	if response.Success {
		report.Success = true
		return
	}

	sendErr := response.Error
	if sendErr == nil {
		report.Reason = pushnotifications.ReasonGatewayError
		return
	}

	switch client.kind(sendErr) {
	case errorUnregistered:
		report.SubscriptionExpired = true
		report.Reason = pushnotifications.ReasonExpired
	case errorInvalidMessage:
		report.InvalidPayload = true
		report.Reason = pushnotifications.ReasonInvalidRequest
	default:
		report.Reason = sendErr.Error()
	}
}

// reservedKey reports whether FCM rejects key in a data payload.
func reservedKey(key string) bool {
	switch key {
	case "from", "notification", "message_type", "payload":
		return true
	}
	return strings.HasPrefix(key, "google") || strings.HasPrefix(key, "gcm")
}

func buildMessage(message pushnotifications.Message) *messaging.Message {
	payload := message.Payload

	data := make(map[string]string, len(payload.Data)+1)
	for key, value := range payload.Data {
		if reservedKey(key) {
			continue
		}
		data[key] = fmt.Sprint(value)
	}
	data["payload"] = string(message.Data)

	ttl := time.Duration(message.TTL) * time.Second

	androidPriority, apnsPriority := "normal", "5"
	if message.Urgency == pushnotifications.UrgencyHigh {
		androidPriority, apnsPriority = "high", "10"
	}

	return &messaging.Message{
		Token: message.Subscription.Endpoint,
		Notification: &messaging.Notification{
			Title:    payload.Title,
			Body:     payload.Body,
			ImageURL: payload.Image,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority:    androidPriority,
			TTL:         &ttl,
			CollapseKey: message.Topic,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":   apnsPriority,
				"apns-expiration": strconv.FormatInt(time.Now().Add(ttl).Unix(), 10),
			},
		},
	}
}
