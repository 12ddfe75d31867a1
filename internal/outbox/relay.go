package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store hands out unpublished events.
type Store interface {
	// Dispatch claims up to limit events and marks them published when
	// publish returns nil. It returns the number of events published.
	Dispatch(ctx context.Context, limit int, publish func(ctx context.Context, events []Event) error) (int, error)
	// Purge removes events published before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Writer publishes messages to the broker. *kafka.Writer satisfies it.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	Interval      time.Duration
	BatchSize     int
	PurgeInterval time.Duration
	Retention     time.Duration
}

func (c *RelayConfig) setDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = time.Hour
	}
	if c.Retention == 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// Relay moves outbox events to the broker. Delivery is at-least-once: a crash
// between the broker write and the commit republishes the batch.
type Relay struct {
	store  Store
	writer Writer
	cfg    RelayConfig
}

// NewRelay creates a Relay.
func NewRelay(store Store, writer Writer, cfg RelayConfig) *Relay {
	cfg.setDefaults()
	return &Relay{store: store, writer: writer, cfg: cfg}
}

// NewKafkaWriter creates a writer for topic. Messages are keyed by order id, so
// the hash balancer keeps each order's events on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)

	tick := time.NewTicker(r.cfg.Interval)
	defer tick.Stop()
	purge := time.NewTicker(r.cfg.PurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				lg.Error("Outbox relay failed", zap.Error(err))
			}
		case <-purge.C:
			n, err := r.store.Purge(ctx, time.Now().Add(-r.cfg.Retention))
			if err != nil {
				lg.Error("Outbox purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Purged published outbox events", zap.Int64("count", n))
			}
		}
	}
}

// Drain publishes batches until the outbox is empty and returns how many
// events were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.Dispatch(ctx, r.cfg.BatchSize, r.publish)
		total += n
		if err != nil {
			return total, errors.Wrap(err, "dispatch")
		}
		if n < r.cfg.BatchSize {
			if total > 0 {
				zctx.From(ctx).Debug("Outbox drained", zap.Int("published", total))
			}
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msgs[i] = kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(e.ID)},
				{Key: "event_type", Value: []byte(e.Type)},
			},
			Time: e.CreatedAt,
		}
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "write %d messages", len(msgs))
	}
	return nil
}
