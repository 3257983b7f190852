package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"green-reward/pkg"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSignal publishes raises to a topic keyed by resident. Each observer
// reads with its own consumer group so every process sees every event.
type KafkaSignal struct {
	writer    messageWriter
	newReader func() messageReader
	log       pkg.Logger
	now       func() time.Time
}

func NewKafkaSignal(brokers []string, log pkg.Logger) *KafkaSignal {
	return &KafkaSignal{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		newReader: func() messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     brokers,
				GroupID:     "green-reward-" + uuid.NewString(),
				Topic:       Topic,
				StartOffset: kafka.LastOffset,
			})
		},
		log: log,
		now: time.Now,
	}
}

func (k *KafkaSignal) Raise(ctx context.Context, resident string) error {
	ev := LedgerChanged{Resident: resident, RaisedAt: k.now().UTC()}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(SignalKey(resident)),
		Value: data,
		Time:  ev.RaisedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish ledger signal for %s: %w", resident, err)
	}
	return nil
}

func (k *KafkaSignal) Observe(ctx context.Context, fn func(LedgerChanged)) error {
	reader := k.newReader()
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read ledger signal: %w", err)
		}
		ev, err := decodeEvent(msg.Value)
		if err != nil {
			k.log.Warn("dropping malformed ledger signal", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		fn(ev)
	}
}

func (k *KafkaSignal) Close() error {
	return k.writer.Close()
}
