// Package reconciliation checks that every wallet balance equals the signed
// sum of the log entries touching it.
package reconciliation

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/metrics"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
	"github.com/helgykoin/hkn_ledger/pkg/tracing"
)

const accountPageSize = 200

// Report summarizes a sweep over all accounts
type Report struct {
	Checked    int                              `json:"checked"`
	Mismatches []*entities.ReconciliationResult `json:"mismatches"`
	StartedAt  time.Time                        `json:"started_at"`
	Duration   time.Duration                    `json:"duration"`
}

// Service handles reconciliation operations
type Service struct {
	store   repositories.LedgerStore
	retrier *retry.Retrier
	now     func() time.Time
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewService creates a new reconciliation service
func NewService(store repositories.LedgerStore, retrier *retry.Retrier, now func() time.Time, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if retrier == nil {
		retrier = retry.NewRetrier(retry.DefaultPolicy(), log.Zap())
	}
	return &Service{
		store:   store,
		retrier: retrier,
		now:     now,
		logger:  log,
		tracer:  tracing.GetTracer("hkn-ledger/reconciliation"),
	}
}

// CheckAccount compares the wallet balance with Σ received − Σ sent over the
// account's log entries. Both are read in one unit holding the wallet lock,
// so a transfer committing mid-check cannot skew the result.
func (s *Service) CheckAccount(ctx context.Context, accountID int64) (*entities.ReconciliationResult, error) {
	ctx, span := s.tracer.Start(ctx, "CheckAccount")
	defer span.End()
	span.SetAttributes(attribute.Int64("account_id", accountID))

	var (
		wallet  *entities.Wallet
		entries []*entities.Transaction
	)
	err := s.retrier.Do(ctx, "check_account", func(ctx context.Context) error {
		return s.store.RunAtomic(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
			wallets, err := tx.LockWallets(ctx, accountID)
			if err != nil {
				return err
			}
			w, ok := wallets[accountID]
			if !ok {
				return domainerrors.WalletNotFoundError(accountID)
			}
			e, err := tx.SignedEntries(ctx, accountID)
			if err != nil {
				return err
			}
			wallet, entries = w, e
			return nil
		})
	})
	if err != nil {
		if !domainerrors.IsWalletNotFound(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.SignedAmountFor(accountID))
	}

	result := &entities.ReconciliationResult{
		AccountID:   accountID,
		Balance:     wallet.Balance,
		LedgerSum:   sum,
		Discrepancy: wallet.Balance.Sub(sum),
		CheckedAt:   s.now().UTC(),
	}
	span.SetAttributes(attribute.Bool("balanced", result.Balanced()))
	return result, nil
}

// CheckAll walks every account and collects the ones that do not reconcile.
func (s *Service) CheckAll(ctx context.Context) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "CheckAll")
	defer span.End()

	report := &Report{StartedAt: s.now().UTC()}
	after := int64(math.MinInt64)
	for {
		ids, err := retry.Run(ctx, s.retrier, "list_accounts", func(ctx context.Context) ([]int64, error) {
			return s.store.ListAccountIDs(ctx, after, accountPageSize)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		for _, id := range ids {
			result, err := s.CheckAccount(ctx, id)
			if err != nil {
				return nil, err
			}
			report.Checked++
			if !result.Balanced() {
				s.logger.Error("Balance does not match log",
					"account_id", id,
					"balance", result.Balance.String(),
					"ledger_sum", result.LedgerSum.String(),
					"discrepancy", result.Discrepancy.String())
				report.Mismatches = append(report.Mismatches, result)
			}
		}

		if len(ids) < accountPageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	report.Duration = s.now().Sub(report.StartedAt)
	metrics.SetReconciliationMismatches(len(report.Mismatches))
	span.SetAttributes(
		attribute.Int("checked", report.Checked),
		attribute.Int("mismatches", len(report.Mismatches)),
	)

	s.logger.Info("Reconciliation completed",
		"checked", report.Checked,
		"mismatches", len(report.Mismatches),
		"duration", report.Duration)
	return report, nil
}
