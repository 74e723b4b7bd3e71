// Package publish sends the discovered URL list to a message broker so the
// downstream scraper can consume it without reading the artifact file.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultBatchSize is the number of messages sent per WriteMessages call.
const DefaultBatchSize = 100

// ErrNoBroker is returned when a Kafka publisher is built without a broker.
var ErrNoBroker = errors.New("kafka broker is required")

// ErrNoTopic is returned when a Kafka publisher is built without a topic.
var ErrNoTopic = errors.New("kafka topic is required")

// Publisher sends a finished crawl's URLs.
type Publisher interface {
	Publish(ctx context.Context, batch Batch) error
	Close() error
}

// Batch is the URL list of one crawl session.
type Batch struct {
	Site      string
	SessionID string
	URLs      []string
}

// Message is the JSON value of one published URL.
type Message struct {
	Site        string    `json:"site"`
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	Position    int       `json:"position"`
	Total       int       `json:"total"`
	PublishedAt time.Time `json:"published_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per URL, keyed by site so a site's URLs
// land on one partition in discovery order.
type KafkaPublisher struct {
	writer    messageWriter
	batchSize int
	now       func() time.Time
}

// KafkaOption configures a KafkaPublisher.
type KafkaOption func(*KafkaPublisher)

// WithBatchSize sets the number of messages per write.
func WithBatchSize(n int) KafkaOption {
	return func(p *KafkaPublisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// NewKafkaPublisher creates a publisher for the given broker and topic.
func NewKafkaPublisher(broker, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if broker == "" {
		return nil, ErrNoBroker
	}
	if topic == "" {
		return nil, ErrNoTopic
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}, opts...), nil
}

func newKafkaPublisher(w messageWriter, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:    w,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close shuts down the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Publish writes every URL of batch in order.
func (p *KafkaPublisher) Publish(ctx context.Context, batch Batch) error {
	if len(batch.URLs) == 0 {
		return nil
	}
	now := p.now().UTC()
	key := []byte(batch.Site)

	msgs := make([]kafka.Message, 0, p.batchSize)
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish urls of %s: %w", batch.Site, err)
		}
		msgs = msgs[:0]
		return nil
	}

	for i, u := range batch.URLs {
		payload, err := json.Marshal(Message{
			Site:        batch.Site,
			SessionID:   batch.SessionID,
			URL:         u,
			Position:    i,
			Total:       len(batch.URLs),
			PublishedAt: now,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: key, Value: payload, Time: now})
		if len(msgs) == p.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
