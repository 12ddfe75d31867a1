package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/storage/postgres"
)

type userJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func main() {
	var (
		databaseURL string
		usersFile   string
		jwtSecret   string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&usersFile, "users-file", "db/seed/users.json", "path to users JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "secret to sign development tokens with (or PAYGATE_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed development tokens")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("PAYGATE_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, usersFile, jwtSecret, tokenTTL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, usersFile, jwtSecret string, ttl time.Duration) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	users, err := readUsers(usersFile)
	if err != nil {
		return errors.Wrap(err, "read users")
	}

	if err := seedUsers(ctx, postgres.NewUserRepository(pool), users); err != nil {
		return errors.Wrap(err, "seed users")
	}

	if jwtSecret == "" {
		slog.Info("no JWT secret given, skipping development tokens")
		return nil
	}
	return printTokens(auth.NewTokenVerifier([]byte(jwtSecret)), users, ttl)
}

func readUsers(path string) ([]userJSON, error) {
	slog.Info("reading users file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read users file")
	}

	var users []userJSON
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, errors.Wrap(err, "parse users JSON")
	}
	return users, nil
}

func seedUsers(ctx context.Context, repo *postgres.UserRepository, users []userJSON) error {
	slog.Info("upserting users", slog.Int("count", len(users)))

	for _, u := range users {
		if err := repo.Upsert(ctx, u.ID, u.Email, u.Name); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.ID)
		}

		slog.Info("upserted user", slog.String("id", u.ID), slog.String("email", u.Email))
	}

	return nil
}

// printTokens writes one bearer token per user to stdout so the API can be
// exercised locally without the identity provider.
func printTokens(v *auth.TokenVerifier, users []userJSON, ttl time.Duration) error {
	for _, u := range users {
		token, err := v.Issue(auth.Identity{UserID: u.ID, Email: u.Email}, ttl)
		if err != nil {
			return errors.Wrapf(err, "issue token for %s", u.ID)
		}
		fmt.Printf("%s\t%s\n", u.ID, token)
	}
	return nil
}
