package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/router"
)

type mockKafkaWriter struct {
	mu         sync.Mutex
	messages   []kafka.Message
	shouldFail bool
	closed     bool
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail {
		return errors.New("kafka error")
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

var ts = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func quote(key string) model.Event {
	return model.Event{
		Type:      model.EventQuote,
		Timestamp: ts,
		Quote:     &model.Quote{InstrumentKey: key, Bid: 1.25, Ask: 1.75, Mid: 1.5, Timestamp: ts},
		State:     model.Connected,
	}
}

func TestEncode(t *testing.T) {
	t.Run("quote keyed by instrument", func(t *testing.T) {
		msg, ok, err := Encode(quote("EURUSD"))
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, "EURUSD", string(msg.Key))
		assert.Equal(t, ts, msg.Time)
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "quote", string(msg.Headers[0].Value))

		var decoded model.Event
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		require.NotNil(t, decoded.Quote)
		assert.Equal(t, 1.5, decoded.Quote.Mid)
	})

	t.Run("heartbeat", func(t *testing.T) {
		msg, ok, err := Encode(model.Event{Type: model.EventHeartbeat, Timestamp: ts})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, HeartbeatKey, string(msg.Key))
		assert.Contains(t, string(msg.Value), `"type":"heartbeat"`)
	})

	t.Run("connection state skipped", func(t *testing.T) {
		_, ok, err := Encode(model.Event{Type: model.EventConnectionState, State: model.Reconnecting})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("quote event without quote skipped", func(t *testing.T) {
		_, ok, err := Encode(model.Event{Type: model.EventQuote})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPublisher_PublishesQuotesAndHeartbeats(t *testing.T) {
	input := router.NewGrowableBuffer[model.Event](16)
	w := &mockKafkaWriter{}
	p := NewPublisher(Config{Topic: "pricefeed.events", BatchSize: 10}, input, w, nil)

	require.NoError(t, p.Start(context.Background()))

	input.Send(quote("EURUSD"))
	input.Send(model.Event{Type: model.EventConnectionState, State: model.Connected})
	input.Send(model.Event{Type: model.EventHeartbeat, Timestamp: ts})
	input.Send(quote("XAUUSD"))

	assert.Eventually(t, func() bool { return w.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	w.mu.Lock()
	defer w.mu.Unlock()
	keys := []string{}
	for _, m := range w.messages {
		keys = append(keys, string(m.Key))
	}
	assert.Equal(t, []string{"EURUSD", HeartbeatKey, "XAUUSD"}, keys)
	assert.True(t, w.closed)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestPublisher_WriteErrorCounted(t *testing.T) {
	input := router.NewGrowableBuffer[model.Event](4)
	w := &mockKafkaWriter{shouldFail: true}
	p := NewPublisher(Config{Topic: "t"}, input, w, nil)

	p.publish(context.Background(), []model.Event{quote("EURUSD"), quote("GBPUSD")})

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Errors)
	assert.Zero(t, stats.Published)
}

func TestPublisher_StopDrainsQueued(t *testing.T) {
	input := router.NewGrowableBuffer[model.Event](4)
	w := &mockKafkaWriter{}
	p := NewPublisher(Config{Topic: "t", BatchSize: 2}, input, w, nil)

	// Never started: Stop still publishes what was queued.
	for _, k := range []string{"EURUSD", "GBPUSD", "USDJPY"} {
		input.Send(quote(k))
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, 3, w.count())
	assert.True(t, w.closed)
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "pricefeed.events",
		BatchSize:    50,
		BatchTimeout: 10 * time.Millisecond,
	})
	defer w.Close()

	assert.Equal(t, "pricefeed.events", w.Topic)
	assert.Equal(t, 50, w.BatchSize)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
