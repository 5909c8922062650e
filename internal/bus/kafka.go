package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig addresses a Kafka cluster. Each bus channel is a topic.
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// Kafka is a Bus over Kafka topics.
type Kafka struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	log    *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafka creates the shared writer; readers are created per Subscribe.
func NewKafka(cfg KafkaConfig, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	return &Kafka{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			WriteBackoffMin:        100 * time.Millisecond,
			WriteBackoffMax:        time.Second,
		},
		log: log.Named("bus.kafka"),
	}
}

func (k *Kafka) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := k.writer.WriteMessages(ctx, kafka.Message{Topic: channel, Value: payload}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", channel, err)
	}
	return nil
}

func (k *Kafka) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	out := make(chan Message, 256)
	var wg sync.WaitGroup

	for _, topic := range channels {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.cfg.Brokers,
			GroupID:     k.cfg.GroupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
		})
		k.mu.Lock()
		k.readers = append(k.readers, r)
		k.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			k.consume(ctx, r, out)
		}()
	}
	k.log.Info("subscribed", zap.Strings("topics", channels), zap.String("group", k.cfg.GroupID))

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (k *Kafka) consume(ctx context.Context, r *kafka.Reader, out chan<- Message) {
	defer r.Close()
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
				return
			}
			k.log.Warn("kafka read failed", zap.String("topic", r.Config().Topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case out <- Message{Channel: m.Topic, Payload: m.Value}:
		case <-ctx.Done():
			return
		}
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()

	errs := []error{k.writer.Close()}
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
