package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"
)

// KafkaConfig defines configuration for the Kafka implementation.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientID"`

	// Producer settings
	RequiredAcks kafka.RequiredAcks `yaml:"requiredAcks"`
	BatchSize    int                `yaml:"batchSize"`
	BatchTimeout time.Duration      `yaml:"batchTimeout"`
	WriteTimeout time.Duration      `yaml:"writeTimeout"`
	DialTimeout  time.Duration      `yaml:"dialTimeout"`
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults.
func DefaultKafkaConfig(brokers []string) *KafkaConfig {
	return &KafkaConfig{
		Brokers:      brokers,
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

// KafkaQueue implements MessageQueue using segmentio/kafka-go.
// One writer is maintained per topic and reused across publishes.
type KafkaQueue struct {
	config *KafkaConfig

	mu      sync.RWMutex
	writers map[string]*kafka.Writer
	closed  bool
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(config *KafkaConfig) (*KafkaQueue, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	return &KafkaQueue{
		config:  config,
		writers: make(map[string]*kafka.Writer),
	}, nil
}

// Publish publishes a single message to the topic.
func (q *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	return q.PublishBatch(ctx, topic, []*Message{message})
}

// PublishBatch publishes multiple messages to the topic.
func (q *KafkaQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if len(messages) == 0 {
		return nil
	}
	writer, err := q.writer(topic)
	if err != nil {
		return err
	}

	kafkaMessages := make([]kafka.Message, 0, len(messages))
	for _, message := range messages {
		if message == nil {
			continue
		}
		kafkaMessages = append(kafkaMessages, toKafkaMessage(message))
	}
	if len(kafkaMessages) == 0 {
		return nil
	}
	if err := writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		return fmt.Errorf("write messages to %s failed: %w", topic, err)
	}
	return nil
}

// Ping dials the first broker to verify connectivity.
func (q *KafkaQueue) Ping(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: q.config.DialTimeout, ClientID: q.config.ClientID}
	conn, err := dialer.DialContext(ctx, "tcp", q.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker failed: %w", err)
	}
	return conn.Close()
}

// Close closes all topic writers.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	var firstErr error
	for topic, writer := range q.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer for %s failed: %w", topic, err)
		}
	}
	q.writers = nil
	return firstErr
}

func (q *KafkaQueue) writer(topic string) (*kafka.Writer, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, fmt.Errorf("queue is closed")
	}
	writer, ok := q.writers[topic]
	q.mu.RUnlock()
	if ok {
		return writer, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("queue is closed")
	}
	if writer, ok := q.writers[topic]; ok {
		return writer, nil
	}
	writer = &kafka.Writer{
		Addr:         kafka.TCP(q.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: q.config.RequiredAcks,
		BatchSize:    q.config.BatchSize,
		BatchTimeout: q.config.BatchTimeout,
		WriteTimeout: q.config.WriteTimeout,
	}
	q.writers[topic] = writer
	return writer, nil
}

func toKafkaMessage(message *Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(message.Headers)+2)
	for key, value := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	ts := message.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(ts.UTC().Format(time.RFC3339Nano))})

	return kafka.Message{
		Key:     []byte(message.Key),
		Value:   message.Body,
		Headers: headers,
		Time:    ts,
	}
}
