package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/rail"
	"github.com/xenking/paygate/internal/settlement"
	"github.com/xenking/paygate/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		workers     int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "statement files scanned concurrently")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: settlement-ingest [flags] statement.csv[.gz]...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, workers, flag.Args()); err != nil {
		slog.Error("settlement ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("settlement ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, workers int, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Settling a local payment never calls the card gateway.
	svc, err := payment.NewService(
		payment.Config{},
		postgres.NewPaymentRepository(pool),
		postgres.NewOrderRepository(pool),
		rail.NewRegistry(rail.MalawiPhonePlan(), rail.DefaultDescriptors()...),
		rail.NewReferenceGenerator("TH", 1024),
		nil,
		payment.Options{},
	)
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}

	report, err := settlement.NewIngester(svc, slog.Default(), workers).Run(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("settlement summary",
		slog.Int("files", report.Files),
		slog.Int("lines", report.Lines),
		slog.Int("candidates", report.Candidates),
		slog.Int("confirmed", report.Confirmed),
		slog.Int("rejected", report.Rejected),
	)
	return nil
}
