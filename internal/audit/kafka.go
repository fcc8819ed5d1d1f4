package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"classauth/internal/platform/logger"
)

// KafkaPublisher produces events to a topic, keyed by user so one user's
// events stay ordered within a partition. Produce is asynchronous.
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	breaker *breaker
	logger  *slog.Logger
	dropped atomic.Int64
}

type KafkaOption func(*kafkaConfig)

type kafkaConfig struct {
	logger    *slog.Logger
	threshold int
	cooldown  time.Duration
	linger    time.Duration
	extra     []kgo.Opt
}

func WithKafkaLogger(l *slog.Logger) KafkaOption {
	return func(c *kafkaConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBreaker sets how many consecutive produce failures open the circuit
// and how long it stays open.
func WithBreaker(threshold int, cooldown time.Duration) KafkaOption {
	return func(c *kafkaConfig) {
		c.threshold = threshold
		c.cooldown = cooldown
	}
}

// WithClientOpts appends raw kgo options.
func WithClientOpts(opts ...kgo.Opt) KafkaOption {
	return func(c *kafkaConfig) { c.extra = append(c.extra, opts...) }
}

func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("audit: no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("audit: kafka topic is required")
	}
	cfg := kafkaConfig{logger: logger.Discard(), linger: 5 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	kopts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(cfg.linger),
		kgo.RecordDeliveryTimeout(10 * time.Second),
	}, cfg.extra...)
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{
		client:  client,
		topic:   topic,
		breaker: newBreaker(cfg.threshold, cfg.cooldown),
		logger:  cfg.logger,
	}, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Emit enqueues the event. While the circuit is open the event is dropped
// and counted; Emit never fails the caller because of broker health.
func (p *KafkaPublisher) Emit(ctx context.Context, event Event) error {
	e := Enrich(ctx, event)
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if !p.breaker.allow() {
		p.dropped.Add(1)
		return nil
	}

	record := &kgo.Record{
		Key:   []byte(e.UserID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	// The produce outlives the request; detach from its cancellation.
	p.client.Produce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		if err == nil {
			p.breaker.success()
			return
		}
		p.dropped.Add(1)
		if p.breaker.failure() {
			p.logger.Warn("audit circuit opened", "topic", p.topic, "error", err)
			return
		}
		p.logger.Error("audit produce failed", "topic", p.topic, "type", string(e.Type), "error", err)
	})
	return nil
}

// Dropped reports events that were not delivered.
func (p *KafkaPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Flush waits for buffered records to be delivered.
func (p *KafkaPublisher) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

// Ping checks broker reachability.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes what it can within ctx and closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
