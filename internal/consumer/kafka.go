package consumer

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/sink"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads signal envelopes and delivers them to a sink
type KafkaConsumer struct {
	reader messageReader
	sink   sink.Sink
	topic  string
	group  string
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(cfg config.KafkaConfig, s sink.Sink) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, sink.ErrNoBrokers
	}
	topic := cfg.Topics["signals"]
	if topic == "" {
		topic = sink.DefaultSignalsTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return newKafkaConsumer(reader, s, topic, cfg.ConsumerGroup), nil
}

func newKafkaConsumer(reader messageReader, s sink.Sink, topic, group string) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, sink: s, topic: topic, group: group}
}

// Start consumes until ctx is cancelled. Undecodable messages are committed
// and skipped so one bad record cannot stall the partition.
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Kafka consumer stopped")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			env, err := signal.Decode(msg.Value)
			if err != nil {
				log.Error().
					Err(err).
					Str("value", string(msg.Value)).
					Msg("Failed to parse message")
			} else if err := sink.DeliverEnvelope(ctx, c.sink, env); err != nil {
				log.Error().
					Err(err).
					Str("kind", string(env.Kind)).
					Str("session_id", env.SessionID()).
					Msg("Failed to deliver signal")
			}

			// Commit
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit message")
			}
		}
	}
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
