package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
)

// Settlement is one matched line of an operator or bank statement.
type Settlement struct {
	Reference string
	Amount    decimal.Decimal
	TxnID     string
}

// ConfirmLocal settles an open mobile-money payment found by its generated
// reference. The statement amount must equal the payment amount. Confirming
// the same statement transaction twice is a no-op. Bank transfers are
// verified by hand and never settle here.
func (s *Service) ConfirmLocal(ctx context.Context, st Settlement) (*Payment, error) {
	st.Reference = strings.ToUpper(strings.TrimSpace(st.Reference))
	if st.Reference == "" {
		return nil, domain.InvalidInput("reference", "Payment reference is required")
	}

	var result *Payment
	if err := s.repo.Transact(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.PaymentByReference(ctx, st.Reference)
		if err != nil {
			return errors.Wrap(err, "find payment by reference")
		}
		if p.Status == StatusSucceeded && p.Metadata.StatementTxnID == st.TxnID {
			result = p
			return nil
		}
		if !p.Status.IsOpen() {
			return domain.Conflict("Payment is already " + string(p.Status))
		}
		if !p.Amount.Equal(st.Amount) {
			return domain.InvalidInput("amount", "Settlement amount does not match payment amount")
		}

		now := s.now().UTC()
		u := Update{
			From: p.Status,
			To:   StatusSucceeded,
			Metadata: Metadata{
				CompletedAt:    &now,
				SettledAt:      &now,
				StatementTxnID: st.TxnID,
			},
		}
		ok, err := tx.TransitionPayment(ctx, p.ID, u)
		if err != nil {
			return errors.Wrap(err, "transition payment")
		}
		if !ok {
			return domain.Conflict("Payment changed concurrently")
		}
		if err := appendStatusChanged(ctx, tx, p, StatusSucceeded); err != nil {
			return err
		}
		p.Status = StatusSucceeded
		p.Metadata = p.Metadata.Merge(u.Metadata)
		result = p
		return s.reconciler.PaymentSucceeded(ctx, tx, p)
	}); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Local payment settled",
		zap.String("payment_id", result.ID),
		zap.String("reference", st.Reference),
		zap.String("txn_id", st.TxnID),
	)
	return result, nil
}

// OpenReferences lists the references of mobile-money payments still awaiting
// settlement.
func (s *Service) OpenReferences(ctx context.Context) ([]string, error) {
	refs, err := s.repo.OpenReferences(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list open references")
	}
	return refs, nil
}
