// Package booster sells time-bound reward multipliers and answers which
// multiplier applies to an account at a given instant.
package booster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

// Policy decides how simultaneously active boosters combine.
type Policy string

const (
	PolicyMultiply Policy = "multiply"
	PolicyMax      Policy = "max"
)

var one = decimal.NewFromInt(1)

// Validate checks if the policy is known
func (p Policy) Validate() error {
	switch p {
	case PolicyMultiply, PolicyMax:
		return nil
	default:
		return fmt.Errorf("invalid booster policy: %s", p)
	}
}

// Combine folds multipliers into one. No multipliers means 1.
func (p Policy) Combine(multipliers []decimal.Decimal) decimal.Decimal {
	out := one
	for _, m := range multipliers {
		if p == PolicyMax {
			out = decimal.Max(out, m)
		} else {
			out = out.Mul(m)
		}
	}
	return out
}

// MultiplierAt combines the boosters whose window covers at.
func (p Policy) MultiplierAt(boosters []*entities.Booster, at time.Time) decimal.Decimal {
	var active []decimal.Decimal
	for _, b := range boosters {
		if b.ActiveAt(at) {
			active = append(active, b.Multiplier)
		}
	}
	return p.Combine(active)
}

// Service is the booster registry
type Service struct {
	ledger  *ledger.Service
	store   repositories.LedgerStore
	catalog map[string]entities.BoosterSpec
	kinds   []string
	policy  Policy
	logger  *logger.Logger
}

// NewService creates a booster registry over the given catalog.
func NewService(ledgerSvc *ledger.Service, store repositories.LedgerStore, catalog []entities.BoosterSpec, policy Policy, log *logger.Logger) (*Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		ledger:  ledgerSvc,
		store:   store,
		catalog: make(map[string]entities.BoosterSpec, len(catalog)),
		policy:  policy,
		logger:  log,
	}
	for _, spec := range catalog {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.catalog[spec.Kind]; dup {
			return nil, fmt.Errorf("duplicate booster kind %q", spec.Kind)
		}
		s.catalog[spec.Kind] = spec
		s.kinds = append(s.kinds, spec.Kind)
	}
	sort.Strings(s.kinds)
	return s, nil
}

// Policy returns the combination policy
func (s *Service) Policy() Policy {
	return s.policy
}

// Catalog lists the purchasable boosters ordered by kind.
func (s *Service) Catalog() []entities.BoosterSpec {
	out := make([]entities.BoosterSpec, 0, len(s.kinds))
	for _, kind := range s.kinds {
		out = append(out, s.catalog[kind])
	}
	return out
}

// Purchase debits the booster's cost and activates it from now.
func (s *Service) Purchase(ctx context.Context, accountID int64, kind string) (uuid.UUID, error) {
	spec, ok := s.catalog[kind]
	if !ok {
		return uuid.Nil, domainerrors.UnknownBoosterError(kind)
	}

	var id uuid.UUID
	err := s.ledger.Atomic(ctx, "purchase_booster", func(ctx context.Context, u *ledger.Unit) error {
		if _, err := u.RequireWallets(ctx, accountID); err != nil {
			return err
		}
		if err := u.Debit(ctx, accountID, spec.Cost); err != nil {
			return err
		}

		var err error
		id, err = uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate booster id: %w", err)
		}
		b := &entities.Booster{
			ID:          id,
			AccountID:   accountID,
			Kind:        spec.Kind,
			Multiplier:  spec.Multiplier,
			ActivatedAt: u.Now(),
			ExpiresAt:   u.Now().Add(spec.Duration),
		}
		if err := u.InsertBooster(ctx, b); err != nil {
			return err
		}
		return u.Record(ctx, &entities.Transaction{
			SenderID: &accountID,
			Amount:   spec.Cost,
			Kind:     entities.TransactionKindBooster,
			Memo:     spec.Kind,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Booster purchased",
		"account_id", accountID,
		"kind", spec.Kind,
		"booster_id", id,
		"multiplier", spec.Multiplier.String())
	return id, nil
}

// ActiveBoosters returns the account's boosters in force at the given instant.
func (s *Service) ActiveBoosters(ctx context.Context, accountID int64, at time.Time) ([]*entities.Booster, error) {
	boosters, err := retry.Run(ctx, s.ledger.Retrier(), "list_boosters", func(ctx context.Context) ([]*entities.Booster, error) {
		return s.store.ListBoosters(ctx, accountID, at)
	})
	if err != nil {
		return nil, err
	}
	active := boosters[:0]
	for _, b := range boosters {
		if b.ActiveAt(at) {
			active = append(active, b)
		}
	}
	return active, nil
}

// ActiveMultiplierFor combines the account's boosters in force at the given
// instant. It has no side effects.
func (s *Service) ActiveMultiplierFor(ctx context.Context, accountID int64, at time.Time) (decimal.Decimal, error) {
	boosters, err := s.ActiveBoosters(ctx, accountID, at)
	if err != nil {
		return decimal.Zero, err
	}
	return s.policy.MultiplierAt(boosters, at), nil
}
