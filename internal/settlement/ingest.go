// Package settlement matches operator and bank statements against open local
// payments and confirms the matches.
//
// Statements are CSV files, optionally gzip-compressed, with the columns
// reference,amount,msisdn,txn_id. A header row is allowed. Files are scanned
// in parallel; each line is first tested against a Bloom filter of the open
// references so only plausible matches reach the database.
package settlement

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/payment"
)

const bloomFPR = 0.001

// Line is one statement row.
type Line struct {
	Reference string
	Amount    decimal.Decimal
	MSISDN    string
	TxnID     string
}

// Confirmer settles a matched payment. *payment.Service satisfies it.
type Confirmer interface {
	OpenReferences(ctx context.Context) ([]string, error)
	ConfirmLocal(ctx context.Context, st payment.Settlement) (*payment.Payment, error)
}

var _ Confirmer = (*payment.Service)(nil)

// Report summarizes an ingest run.
type Report struct {
	Files      int
	Lines      int
	Candidates int
	Confirmed  int
	Rejected   int
}

// Ingester runs statement ingestion.
type Ingester struct {
	confirmer Confirmer
	lg        *slog.Logger
	workers   int
}

// NewIngester scans at most workers files at a time.
func NewIngester(c Confirmer, lg *slog.Logger, workers int) *Ingester {
	if workers <= 0 {
		workers = 4
	}
	return &Ingester{confirmer: c, lg: lg, workers: workers}
}

// Run ingests every file. Lines that match no open payment are ignored.
// Matches the payment core refuses (already settled, amount mismatch) are
// logged and counted as rejected; any other error aborts the run.
func (in *Ingester) Run(ctx context.Context, files []string) (Report, error) {
	report := Report{Files: len(files)}

	open, err := in.confirmer.OpenReferences(ctx)
	if err != nil {
		return report, errors.Wrap(err, "load open references")
	}
	if len(open) == 0 {
		in.lg.Info("no open references, nothing to settle")
		return report, nil
	}
	filter := bloom.NewWithEstimates(uint(len(open)), bloomFPR)
	for _, ref := range open {
		filter.AddString(ref)
	}
	in.lg.Info("loaded open references", slog.Int("count", len(open)))

	var (
		mu         sync.Mutex
		candidates []Line
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for _, path := range files {
		g.Go(func() error {
			var lines int
			var found []Line
			if err := ReadFile(gctx, path, func(l Line) error {
				lines++
				if filter.TestString(l.Reference) {
					found = append(found, l)
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			in.lg.Info("scanned statement",
				slog.String("file", path),
				slog.Int("lines", lines),
				slog.Int("candidates", len(found)),
			)

			mu.Lock()
			defer mu.Unlock()
			report.Lines += lines
			candidates = append(candidates, found...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	for _, l := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p, err := in.confirmer.ConfirmLocal(ctx, payment.Settlement{
			Reference: l.Reference,
			Amount:    l.Amount,
			TxnID:     l.TxnID,
		})
		switch {
		case err == nil:
			report.Confirmed++
			in.lg.Info("payment confirmed",
				slog.String("reference", l.Reference),
				slog.String("payment_id", p.ID),
				slog.String("txn_id", l.TxnID),
			)
		case errors.Is(err, domain.ErrNotFound),
			errors.Is(err, domain.ErrConflict),
			errors.Is(err, domain.ErrInvalidInput):
			report.Rejected++
			in.lg.Warn("statement line rejected",
				slog.String("reference", l.Reference),
				slog.String("msisdn", l.MSISDN),
				slog.String("txn_id", l.TxnID),
				slog.String("reason", err.Error()),
			)
		default:
			return report, errors.Wrapf(err, "confirm %s", l.Reference)
		}
	}
	return report, nil
}

// ReadFile streams the lines of a statement file, decompressing .gz files.
func ReadFile(ctx context.Context, path string, fn func(Line) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return Read(ctx, r, fn)
}

// Read parses statement CSV from r.
func Read(ctx context.Context, r io.Reader, fn func(Line) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "row %d", row)
		}
		if row == 1 && strings.EqualFold(rec[0], "reference") {
			continue
		}

		amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(rec[1]), ",", ""))
		if err != nil {
			return errors.Wrapf(err, "row %d: parse amount %q", row, rec[1])
		}
		if err := fn(Line{
			Reference: strings.ToUpper(strings.TrimSpace(rec[0])),
			Amount:    amount,
			MSISDN:    strings.TrimSpace(rec[2]),
			TxnID:     strings.TrimSpace(rec[3]),
		}); err != nil {
			return err
		}
	}
}
