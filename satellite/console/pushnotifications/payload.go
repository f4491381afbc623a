// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"encoding/json"
	"regexp"

	"storj.io/common/uuid"
)

// Hints are the transport hints derived from a priority.
type Hints struct {
	// TTL is how long, in seconds, the push service keeps an undelivered message.
	TTL     int
	Urgency Urgency
}

// PriorityHints maps a priority to its transport hints. Unknown priorities use normal.
func PriorityHints(priority Priority) Hints {
	switch priority {
	case PriorityUrgent:
		return Hints{TTL: 3600, Urgency: UrgencyHigh}
	case PriorityHigh:
		return Hints{TTL: 1800, Urgency: UrgencyHigh}
	case PriorityLow:
		return Hints{TTL: 60, Urgency: UrgencyLow}
	default:
		return Hints{TTL: 300, Urgency: UrgencyNormal}
	}
}

// Action is a button shown with a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Payload is the JSON document delivered to the client.
type Payload struct {
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon"`
	Image              string                 `json:"image,omitempty"`
	Badge              string                 `json:"badge,omitempty"`
	URL                string                 `json:"url,omitempty"`
	Tag                string                 `json:"tag,omitempty"`
	Data               map[string]interface{} `json:"data"`
	Actions            []Action               `json:"actions,omitempty"`
	RequireInteraction bool                   `json:"requireInteraction"`
	Silent             bool                   `json:"silent"`
}

// Message is an encoded notification ready for a transport.
type Message struct {
	RecordID     uuid.UUID
	Subscription Subscription

	Payload Payload
	// Data is the JSON encoding of Payload.
	Data []byte

	TTL     int
	Urgency Urgency
	// Topic lets the push service replace an undelivered message with the same topic.
	Topic string
}

const maxActions = 2

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// Encoder builds messages from records.
type Encoder struct {
	DefaultIcon string
	Badge       string
	// MaxPayloadSize is the largest accepted encoded payload, zero means unlimited.
	MaxPayloadSize int
}

// Payload builds the client visible document of a record.
func (encoder Encoder) Payload(record Record) Payload {
	content := record.Content

	icon := content.Icon
	if icon == "" {
		icon = encoder.DefaultIcon
	}

	data := make(map[string]interface{}, len(content.Data)+3)
	for key, value := range content.Data {
		data[key] = value
	}
	data["url"] = content.URL
	data["notification_id"] = record.ID.String()
	data["timestamp"] = record.CreatedAt.Unix()

	return Payload{
		Title:              content.Title,
		Body:               content.Body,
		Icon:               icon,
		Image:              content.Image,
		Badge:              encoder.Badge,
		URL:                content.URL,
		Tag:                content.Tag,
		Data:               data,
		Actions:            actionsFor(record.Category, content.URL),
		RequireInteraction: record.Priority == PriorityUrgent,
		Silent:             false,
	}
}

// Encode builds the message for delivering record to subscription.
func (encoder Encoder) Encode(record Record, subscription Subscription) (Message, error) {
	payload := encoder.Payload(record)

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, ErrInvalidPayload.Wrap(err)
	}
	if encoder.MaxPayloadSize > 0 && len(data) > encoder.MaxPayloadSize {
		return Message{}, ErrInvalidPayload.New("payload is %d bytes, limit is %d", len(data), encoder.MaxPayloadSize)
	}

	hints := PriorityHints(record.Priority)
	message := Message{
		RecordID:     record.ID,
		Subscription: subscription,
		Payload:      payload,
		Data:         data,
		TTL:          hints.TTL,
		Urgency:      hints.Urgency,
	}
	if topicPattern.MatchString(string(record.Category)) {
		message.Topic = string(record.Category)
	}
	return message, nil
}

func actionsFor(category Category, url string) []Action {
	var actions []Action
	if url != "" {
		actions = append(actions, Action{Action: "view", Title: "View"})
	}

	switch category {
	case CategoryReminder:
		actions = append(actions, Action{Action: "snooze", Title: "Snooze"})
	case CategoryAlert:
		actions = append(actions, Action{Action: "acknowledge", Title: "Acknowledge"})
	}

	actions = append(actions, Action{Action: "dismiss", Title: "Dismiss"})
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}
	return actions
}
