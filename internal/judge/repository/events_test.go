package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"gavel/internal/common/mq"
	"gavel/internal/judge/model"
)

// fakeQueue records published messages and optionally fails every publish.
type fakeQueue struct {
	mu       sync.Mutex
	messages []*mq.Message
	topics   []string
	fail     error
}

func (q *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.topics = append(q.topics, topic)
	q.messages = append(q.messages, message)
	return nil
}

func (q *fakeQueue) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, message := range messages {
		if err := q.Publish(ctx, topic, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Ping(ctx context.Context) error { return nil }
func (q *fakeQueue) Close() error                   { return nil }

// fakeEventLog records appended events and optionally fails.
type fakeEventLog struct {
	appended []model.Event
	fail     error
}

func (l *fakeEventLog) Append(ctx context.Context, event model.Event) error {
	if l.fail != nil {
		return l.fail
	}
	l.appended = append(l.appended, event)
	return nil
}

func TestPublishKeysBySubmission(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	publisher := NewMQEventPublisher(queue, "judge.events", nil)

	event := model.NewEvent(model.EventJudgeStarted, "s1",
		model.JudgeStartedPayload{SubmissionID: "s1", WorkerID: "w1"})
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(queue.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(queue.messages))
	}
	message := queue.messages[0]
	if queue.topics[0] != "judge.events" {
		t.Fatalf("topic = %s", queue.topics[0])
	}
	if message.Key != "s1" {
		t.Fatalf("partition key = %q, want submission id", message.Key)
	}
	if message.ID != event.EventID {
		t.Fatalf("message id = %q, want event id %q", message.ID, event.EventID)
	}
	if eventType, _ := message.GetHeader("event-type"); eventType != string(model.EventJudgeStarted) {
		t.Fatalf("event-type header = %q", eventType)
	}

	var decoded model.Event
	if err := json.Unmarshal(message.Body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.CorrelationID != "s1" || decoded.Type != model.EventJudgeStarted {
		t.Fatalf("decoded event = %+v", decoded)
	}
}

func TestPublishAppendsDurableLog(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	eventLog := &fakeEventLog{}
	publisher := NewMQEventPublisher(queue, "judge.events", eventLog)

	event := model.NewEvent(model.EventSubmissionCreated, "s1",
		model.SubmissionCreatedPayload{SubmissionID: "s1", ProblemID: "p1"})
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(eventLog.appended) != 1 || eventLog.appended[0].EventID != event.EventID {
		t.Fatalf("event log = %+v", eventLog.appended)
	}
}

func TestPublishBrokerFailureSurfaces(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{fail: errors.New("broker down")}
	eventLog := &fakeEventLog{}
	publisher := NewMQEventPublisher(queue, "judge.events", eventLog)

	event := model.NewEvent(model.EventJudgeError, "s1",
		model.JudgeErrorPayload{SubmissionID: "s1", ErrorKind: "store"})
	if err := publisher.Publish(context.Background(), event); err == nil {
		t.Fatal("expected publish error")
	}
	if len(eventLog.appended) != 0 {
		t.Fatal("event log written despite publish failure")
	}
}

func TestPublishLogFailureIsBestEffort(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	eventLog := &fakeEventLog{fail: errors.New("log down")}
	publisher := NewMQEventPublisher(queue, "judge.events", eventLog)

	event := model.NewEvent(model.EventJudgeCompleted, "s1",
		model.JudgeCompletedPayload{SubmissionID: "s1", Result: model.VerdictAccepted})
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(queue.messages) != 1 {
		t.Fatal("message not published")
	}
}
