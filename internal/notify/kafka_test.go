package notify

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublish_KeyedByCycle(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "oddyssey.cycle-events", logger: quietLogger()}
	at := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)

	p.Publish(context.Background(), model.DomainEvent{
		Type:    model.EventCycleResolved,
		CycleID: 42,
		Payload: map[string]interface{}{"tx_hash": "0xabc"},
		At:      at,
	})

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.True(t, msg.Time.Equal(at))

	var got model.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, model.EventCycleResolved, got.Type)
	assert.Equal(t, int64(42), got.CycleID)
	assert.Equal(t, "0xabc", got.Payload["tx_hash"])

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, model.EventCycleResolved, headers["type"])
	assert.NotEmpty(t, headers["event_id"])
}

func TestPublish_FailureIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: assert.AnError}
	p := &KafkaPublisher{writer: w, topic: "t", logger: quietLogger()}

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), model.DomainEvent{Type: model.EventSyncIssue, CycleID: 1})
	})
	assert.Empty(t, w.messages)
}

func TestPublish_IgnoresCancelledCallerContext(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "t", logger: quietLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Publish(ctx, model.DomainEvent{Type: model.EventCycleOpened, CycleID: 3})
	require.Len(t, w.messages, 1)
	assert.Equal(t, "3", string(w.messages[0].Key))
}

func TestNew_SelectsImplementation(t *testing.T) {
	_, nop := New(config.NotifyConfig{}, quietLogger()).(NopPublisher)
	assert.True(t, nop)

	pub := New(config.NotifyConfig{Brokers: []string{"localhost:9092"}}, quietLogger())
	kp, ok := pub.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, "oddyssey.cycle-events", kp.topic)
	assert.NoError(t, kp.Close())
}
