package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/paygate/internal/domain/order"
)

const (
	userExistsSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`

	upsertUserSQL = `INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`
)

var _ order.UserRepository = (*UserRepository)(nil)

// UserRepository answers user existence checks for order creation.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Exists reports whether a user with the id exists.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, userExistsSQL, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking user %q: %w", id, err)
	}
	return ok, nil
}

// Upsert creates or refreshes a user record mirrored from the identity provider.
func (r *UserRepository) Upsert(ctx context.Context, id, email, name string) error {
	if _, err := r.pool.Exec(ctx, upsertUserSQL, id, email, name); err != nil {
		return fmt.Errorf("upserting user %q: %w", id, err)
	}
	return nil
}
