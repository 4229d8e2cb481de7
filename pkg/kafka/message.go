package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const (
	HeaderRoutingKey     = "routing-key"
	HeaderMessageID      = "message-id"
	HeaderContentType    = "content-type"
	HeaderPersistent     = "persistent"
	HeaderDeliveryCount  = "x-delivery-count"
	HeaderDeathQueue     = "x-death-queue"
	HeaderDeathReason    = "x-death-reason"
	HeaderOriginExchange = "x-origin-exchange"

	contentTypeJSON = "application/json"
)

// Message is one event on an exchange. Exchange is the Kafka topic, Key the partition key.
type Message struct {
	Exchange   string
	RoutingKey string
	Key        string
	MessageID  string
	Payload    []byte
	Headers    map[string]string
	Timestamp  time.Time
}

func NewMessage(exchange, routingKey, key string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}

	return &Message{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Key:        key,
		MessageID:  uuid.NewString(),
		Payload:    data,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Delivery is a message handed to a subscriber, along with its position and attempt number.
type Delivery struct {
	Message

	Partition     int32
	Offset        int64
	DeliveryCount int
}

// Decode unmarshals the payload into v.
func (d *Delivery) Decode(v any) error {
	if err := json.Unmarshal(d.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", d.RoutingKey, err)
	}

	return nil
}

// IdempotencyKey identifies the message for deduplication. Messages without
// a message id fall back to their log coordinates, which are stable across redelivery.
func (d *Delivery) IdempotencyKey() string {
	if d.MessageID != "" {
		return d.MessageID
	}

	return fmt.Sprintf("%s/%d/%d", d.Exchange, d.Partition, d.Offset)
}

func deliveryFromSarama(msg *sarama.ConsumerMessage) *Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		headers[string(h.Key)] = string(h.Value)
	}

	count, _ := strconv.Atoi(headers[HeaderDeliveryCount])

	return &Delivery{
		Message: Message{
			Exchange:   msg.Topic,
			RoutingKey: headers[HeaderRoutingKey],
			Key:        string(msg.Key),
			MessageID:  headers[HeaderMessageID],
			Payload:    msg.Value,
			Headers:    headers,
			Timestamp:  msg.Timestamp,
		},
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		DeliveryCount: count,
	}
}
