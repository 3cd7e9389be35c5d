// Package kafka provides a Kafka event-bus publisher using franz-go.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"hivemail/internal/bus"
	"hivemail/internal/logging"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	TLS     bool
	Logger  *slog.Logger
}

// Publisher produces pipeline events to a Kafka topic, keyed by event
// type so consumers see per-type ordering.
type Publisher struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger
}

// New connects the producer client.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	logger := logging.Component(cfg.Logger, "bus").With("type", "kafka")
	logger.Info("kafka publisher started", "brokers", cfg.Brokers, "topic", cfg.Topic)

	return &Publisher{cfg: cfg, client: client, logger: logger}, nil
}

// Publish produces one event synchronously.
func (p *Publisher) Publish(ctx context.Context, ev bus.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	rec := &kgo.Record{
		Key:   []byte(ev.Type),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() {
	p.client.Close()
}
