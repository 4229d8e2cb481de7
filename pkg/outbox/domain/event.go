package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OutboxEvent struct {
	Id            int64
	MessageID     uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Exchange      string
	RoutingKey    string
	Payload       json.RawMessage
	Headers       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Attempts      int64
	LastError     *string
}

// NewOutboxEvent marshals payload into a row ready to be saved in the caller's transaction.
// The routing key doubles as the event type.
func NewOutboxEvent(aggregateType, aggregateID, exchange, routingKey string, payload any) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", routingKey, err)
	}

	return &OutboxEvent{
		MessageID:     uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     routingKey,
		Exchange:      exchange,
		RoutingKey:    routingKey,
		Payload:       data,
	}, nil
}
