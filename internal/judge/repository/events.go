package repository

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"gavel/internal/common/mq"
	"gavel/internal/judge/model"
	"gavel/pkg/utils/logger"
)

// MQEventPublisher publishes lifecycle events to the message broker and
// appends them to the durable event log. Both sides are best-effort: a broker
// or log failure never fails the operation that produced the event.
type MQEventPublisher struct {
	queue    mq.MessageQueue
	topic    string
	eventLog EventLogRepository
}

// NewMQEventPublisher creates an event publisher. eventLog may be nil when no
// durable log is configured.
func NewMQEventPublisher(queue mq.MessageQueue, topic string, eventLog EventLogRepository) *MQEventPublisher {
	return &MQEventPublisher{
		queue:    queue,
		topic:    topic,
		eventLog: eventLog,
	}
}

// Publish emits one event. The correlation id is the partition key, so events
// for the same submission are delivered in publish order.
func (p *MQEventPublisher) Publish(ctx context.Context, event model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	message := mq.NewMessage(body)
	message.ID = event.EventID
	message.Key = event.CorrelationID
	message.SetHeader("event-type", string(event.Type))

	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		logger.Warn(ctx, "event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return err
	}

	if p.eventLog != nil {
		if err := p.eventLog.Append(ctx, event); err != nil {
			logger.Warn(ctx, "event log append failed",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
	return nil
}
