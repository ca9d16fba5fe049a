package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/safar/go-marketplace/internal/models"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	Publish(msg models.OutboxMessage) error
}

var ErrPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// Envelope is the record written to the topic for every outbox message.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// TopicPublisher sends outbox messages to one topic, keyed by aggregate id so
// the events of an order stay ordered within a partition.
type TopicPublisher struct {
	producer *Producer
	topic    string
}

func NewTopicPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &TopicPublisher{producer: producer, topic: topic}
}

const DefaultTopic = "marketplace.settlement.events"

func (p *TopicPublisher) Publish(msg models.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return ErrPublisherNotInitialized
	}

	key := msg.AggregateType + ":" + msg.AggregateID
	if msg.AggregateID == "" {
		key = msg.ID
	}

	envelope := Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		OccurredAt:    msg.CreatedAt.UTC(),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.topic, key, envelope)
}

var _ Publisher = (*TopicPublisher)(nil)
