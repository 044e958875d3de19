package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/patchfox-io/input-service/internal/config"
	"github.com/patchfox-io/input-service/internal/metrics"
)

// Bridge consumes request envelopes from the service's request topic,
// dispatches them through the registry, and publishes the response envelope
// to the caller's response topic.
type Bridge struct {
	reader   *kafka.Reader
	writer   *kafka.Writer
	registry *Registry
	logger   zerolog.Logger
}

// NewBridge wires a consumer group on the request topic and a topic-per-
// message writer for responses.
func NewBridge(cfg config.KafkaConfig, registry *Registry, logger zerolog.Logger) *Bridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.RequestTopic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Bridge{
		reader:   reader,
		writer:   writer,
		registry: registry,
		logger:   logger.With().Str("component", "kafka_bridge").Logger(),
	}
}

// Run consumes until the context is cancelled. Malformed messages are logged
// and committed so they are not redelivered forever.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info().Msg("kafka bridge started")
	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch bus message: %w", err)
		}

		b.handleMessage(ctx, msg)

		if err := b.reader.CommitMessages(ctx, msg); err != nil {
			b.logger.Error().Err(err).Msg("commit bus message")
		}
	}
}

func (b *Bridge) handleMessage(ctx context.Context, msg kafka.Message) {
	receivedAt := time.Now().UTC()

	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		b.logger.Warn().Err(err).Msg("discarding undecodable bus message")
		metrics.MQRequests.WithLabelValues("undecodable").Inc()
		return
	}
	if err := req.Validate(); err != nil {
		b.logger.Warn().Err(err).Msg("discarding invalid bus request")
		metrics.MQRequests.WithLabelValues("invalid").Inc()
		return
	}

	resp := b.registry.Dispatch(ctx, receivedAt, req)

	payload, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error().Err(err).Str("txid", req.TxID.String()).Msg("encode bus response")
		return
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: req.ResponseTopic,
		Key:   []byte(req.TxID.String()),
		Value: payload,
	})
	if err != nil {
		b.logger.Error().Err(err).
			Str("txid", req.TxID.String()).
			Str("topic", req.ResponseTopic).
			Msg("publish bus response")
		metrics.MQRequests.WithLabelValues("publish_error").Inc()
		return
	}
	metrics.MQRequests.WithLabelValues("served").Inc()
}

// Close tears down the consumer and producer.
func (b *Bridge) Close() error {
	rerr := b.reader.Close()
	werr := b.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// Publisher places request envelopes on the bus. The HTTP relay endpoint
// uses it to forward authenticated requests to other services' topics.
type Publisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// Publish validates and sends a request envelope to the given topic.
func (p *Publisher) Publish(ctx context.Context, topic string, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode bus request: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(req.TxID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish bus request to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
