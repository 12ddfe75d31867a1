// Binary outbox-relay publishes payment events from the transactional outbox
// to Kafka.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	appkg "github.com/xenking/paygate/internal/app"
	"github.com/xenking/paygate/internal/outbox"
	"github.com/xenking/paygate/internal/storage/postgres"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}

		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		writer := outbox.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := writer.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()

		relay := outbox.NewRelay(postgres.NewOutboxRepository(pool), writer, outbox.RelayConfig{
			Interval:      cfg.Kafka.Interval,
			BatchSize:     cfg.Kafka.BatchSize,
			PurgeInterval: cfg.Kafka.PurgeInterval,
			Retention:     cfg.Kafka.Retention,
		})

		lg.Info("Relaying outbox",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
		return relay.Run(zctx.Base(ctx, lg))
	})
}
