package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/router"
)

// HeartbeatKey is the message key used for heartbeat events.
const HeartbeatKey = "heartbeat"

// KafkaWriter is the subset of *kafka.Writer the publisher needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds publisher configuration.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int           // max messages per write
	BatchTimeout time.Duration // max wait before a partial batch is written
}

// NewKafkaWriter builds a *kafka.Writer from config.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Stats counts publisher outcomes.
type Stats struct {
	Published int64
	Skipped   int64
	Errors    int64
}

// Publisher drains a listener buffer and writes events to Kafka.
type Publisher struct {
	cfg    Config
	input  *router.GrowableBuffer[model.Event]
	writer KafkaWriter
	logger *slog.Logger

	published atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg Config, input *router.GrowableBuffer[model.Event], writer KafkaWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Publisher{
		cfg:    cfg,
		input:  input,
		writer: writer,
		logger: logger.With("component", "publisher", "topic", cfg.Topic),
	}
}

// Start begins publishing.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("publisher started", "brokers", p.cfg.Brokers)
	return nil
}

// Stop publishes what is already queued, then closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("publisher stop timed out")
	}

	for {
		batch := p.input.DrainTo(p.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}
		p.publish(ctx, batch)
	}

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	p.logger.Info("publisher stopped")
	return nil
}

// Stats returns counters since start.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Skipped:   p.skipped.Load(),
		Errors:    p.errors.Load(),
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		first, ok := p.input.ReceiveContext(p.ctx)
		if !ok {
			return
		}
		batch := append([]model.Event{first}, p.input.DrainTo(p.cfg.BatchSize-1)...)
		p.publish(p.ctx, batch)
	}
}

func (p *Publisher) publish(ctx context.Context, events []model.Event) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, ok, err := Encode(ev)
		if err != nil {
			p.logger.Warn("encode event failed", "type", ev.Type, "error", err)
			p.errors.Add(1)
			continue
		}
		if !ok {
			p.skipped.Add(1)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("kafka write failed", "count", len(msgs), "error", err)
		p.errors.Add(int64(len(msgs)))
		return
	}
	p.published.Add(int64(len(msgs)))
}

// Encode converts an event to a Kafka message. ok is false for events that
// are not published.
func Encode(ev model.Event) (msg kafka.Message, ok bool, err error) {
	var key string
	switch ev.Type {
	case model.EventQuote:
		if ev.Quote == nil {
			return kafka.Message{}, false, nil
		}
		key = ev.Quote.InstrumentKey
	case model.EventHeartbeat:
		key = HeartbeatKey
	default:
		return kafka.Message{}, false, nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, false, err
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}, true, nil
}
