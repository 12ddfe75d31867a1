package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/paygate/internal/outbox"
)

const (
	claimOutboxSQL = `SELECT id, aggregate_id, event_type, payload, created_at FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markOutboxPublishedSQL = `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`

	purgeOutboxSQL = `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`
)

var _ outbox.Store = (*OutboxRepository)(nil)

// OutboxRepository reads and acknowledges outbox events.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Dispatch locks up to limit unpublished events, hands them to publish and
// marks them published when publish succeeds. Concurrent relays skip rows
// locked by each other.
func (r *OutboxRepository) Dispatch(ctx context.Context, limit int, publish func(ctx context.Context, events []outbox.Event) error) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimOutboxSQL, limit)
		if err != nil {
			return fmt.Errorf("claiming outbox events: %w", err)
		}
		events, err := pgx.CollectRows(rows, scanOutboxEvent)
		if err != nil {
			return fmt.Errorf("claiming outbox events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		if err := publish(ctx, events); err != nil {
			return err
		}

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if _, err := tx.Exec(ctx, markOutboxPublishedSQL, ids); err != nil {
			return fmt.Errorf("marking outbox events published: %w", err)
		}
		n = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Purge deletes events published before the cutoff.
func (r *OutboxRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, purgeOutboxSQL, before)
	if err != nil {
		return 0, fmt.Errorf("purging outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOutboxEvent(row pgx.CollectableRow) (outbox.Event, error) {
	var e outbox.Event
	err := row.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt)
	return e, err
}
