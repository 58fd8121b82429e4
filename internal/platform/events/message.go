// Package events publishes order domain events to the configured broker.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ezzatsd/CynaApp/internal/services"
)

// Message is the wire payload shared by every backend.
type Message struct {
	Type          string         `json:"type"`
	OrderID       string         `json:"orderId"`
	UserID        string         `json:"userId,omitempty"`
	CurrentStatus string         `json:"currentStatus"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func newMessage(event services.OrderEvent) (Message, error) {
	if strings.TrimSpace(event.Type) == "" {
		return Message{}, fmt.Errorf("events: event type is required")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return Message{}, fmt.Errorf("events: order id is required")
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return Message{
		Type:          event.Type,
		OrderID:       event.OrderID,
		UserID:        event.UserID,
		CurrentStatus: event.CurrentStatus,
		OccurredAt:    occurred.UTC(),
		Metadata:      event.Metadata,
	}, nil
}

// attributes returns the routing attributes copied onto broker headers.
func (m Message) attributes() map[string]string {
	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventType", m.Type)
	setAttr(attrs, "orderId", m.OrderID)
	setAttr(attrs, "userId", m.UserID)
	setAttr(attrs, "status", m.CurrentStatus)
	return attrs
}

func encode(event services.OrderEvent) (Message, []byte, error) {
	msg, err := newMessage(event)
	if err != nil {
		return Message{}, nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, nil, fmt.Errorf("marshal order event: %w", err)
	}
	return msg, data, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
