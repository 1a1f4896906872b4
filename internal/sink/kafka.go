package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
)

// DefaultSignalsTopic is used when kafka.topics.signals is not configured.
const DefaultSignalsTopic = "gosight.signals"

var ErrNoBrokers = errors.New("kafka: no brokers configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes signal envelopes keyed by session id, so one session's
// signals stay on one partition in order.
type Kafka struct {
	writer messageWriter
	// beacon is an async writer; WriteMessages returns immediately
	beacon messageWriter
}

// NewKafka creates the signal writers.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	topic := cfg.Topics["signals"]
	if topic == "" {
		topic = DefaultSignalsTopic
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           time.Millisecond * 100,
		AllowAutoTopicCreation: true,
	}
	beacon := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           time.Millisecond * 10,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Debug().Err(err).Int("count", len(messages)).Msg("Beacon delivery failed")
			}
		},
	}

	log.Info().Str("topic", topic).Strs("brokers", cfg.Brokers).Msg("Kafka signal writer initialized")
	return newKafka(writer, beacon), nil
}

func newKafka(writer, beacon messageWriter) *Kafka {
	return &Kafka{writer: writer, beacon: beacon}
}

func message(env signal.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(env.SessionID()),
		Value: data,
	}, nil
}

func (k *Kafka) publish(ctx context.Context, env signal.Envelope) error {
	msg, err := message(env)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *Kafka) EmitSessionUpdate(ctx context.Context, u signal.SessionUpdate) error {
	return k.publish(ctx, signal.Envelope{Kind: signal.KindSessionUpdate, Session: &u})
}

func (k *Kafka) EmitPageView(ctx context.Context, v signal.PageView) error {
	return k.publish(ctx, signal.Envelope{Kind: signal.KindPageView, PageView: &v})
}

func (k *Kafka) EmitEvent(ctx context.Context, e signal.Event) error {
	return k.publish(ctx, signal.Envelope{Kind: signal.KindEvent, Event: &e})
}

// Beacon hands the signal to the async writer and returns at once.
func (k *Kafka) Beacon(sig signal.Signal) {
	msg, err := message(signal.Wrap(sig))
	if err != nil {
		log.Debug().Err(err).Msg("Failed to encode beacon")
		return
	}
	if err := k.beacon.WriteMessages(context.Background(), msg); err != nil {
		log.Debug().Err(err).Msg("Failed to queue beacon")
	}
}

// Close flushes and closes both writers.
func (k *Kafka) Close() error {
	return errors.Join(k.writer.Close(), k.beacon.Close())
}
