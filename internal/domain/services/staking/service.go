// Package staking locks principal into stakes and pays time-based rewards,
// weighted by the owner's boosters, when they are claimed or withdrawn.
package staking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/booster"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

const stakePageSize = 50

// Config holds reward parameters and stake bounds
type Config struct {
	BaseHourlyRate decimal.Decimal
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
}

// Service is the staking engine
type Service struct {
	ledger   *ledger.Service
	store    repositories.LedgerStore
	boosters *booster.Service
	cfg      Config
	logger   *logger.Logger
}

// NewService creates a new staking service
func NewService(ledgerSvc *ledger.Service, store repositories.LedgerStore, boosters *booster.Service, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		ledger:   ledgerSvc,
		store:    store,
		boosters: boosters,
		cfg:      cfg,
		logger:   log,
	}
}

func (s *Service) reward(st *entities.Stake, boosters []*entities.Booster, at time.Time) decimal.Decimal {
	return Accrue(st.Principal, s.cfg.BaseHourlyRate, st.LastClaimedAt, at, boosters, s.boosters.Policy(), s.ledger.Decimals())
}

// Stake moves amount from the account's balance into a new active stake.
func (s *Service) Stake(ctx context.Context, accountID int64, amount decimal.Decimal) (uuid.UUID, error) {
	if err := s.ledger.ValidateAmount("amount", amount); err != nil {
		return uuid.Nil, err
	}
	if amount.LessThan(s.cfg.MinAmount) {
		return uuid.Nil, domainerrors.InvalidAmountError("amount", fmt.Sprintf("minimum stake is %s", s.cfg.MinAmount))
	}
	if s.cfg.MaxAmount.IsPositive() && amount.GreaterThan(s.cfg.MaxAmount) {
		return uuid.Nil, domainerrors.InvalidAmountError("amount", fmt.Sprintf("maximum stake is %s", s.cfg.MaxAmount))
	}

	var id uuid.UUID
	err := s.ledger.Atomic(ctx, "stake", func(ctx context.Context, u *ledger.Unit) error {
		if _, err := u.RequireWallets(ctx, accountID); err != nil {
			return err
		}
		if err := u.Debit(ctx, accountID, amount); err != nil {
			return err
		}

		var err error
		id, err = uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate stake id: %w", err)
		}
		err = u.InsertStake(ctx, &entities.Stake{
			ID:            id,
			AccountID:     accountID,
			Principal:     amount,
			StartedAt:     u.Now(),
			LastClaimedAt: u.Now(),
			ClaimedTotal:  decimal.Zero,
			Status:        entities.StakeStatusActive,
		})
		if err != nil {
			return err
		}
		return u.Record(ctx, &entities.Transaction{
			SenderID: &accountID,
			Amount:   amount,
			Kind:     entities.TransactionKindStake,
			Memo:     "stake " + id.String(),
		})
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Stake opened", "account_id", accountID, "stake_id", id, "principal", amount.String())
	return id, nil
}

// Unstake closes the stake and pays back principal plus unclaimed reward.
func (s *Service) Unstake(ctx context.Context, stakeID uuid.UUID) (*entities.UnstakeResult, error) {
	var out *entities.UnstakeResult
	err := s.ledger.Atomic(ctx, "unstake", func(ctx context.Context, u *ledger.Unit) error {
		st, err := u.LockStake(ctx, stakeID)
		if err != nil {
			return err
		}
		if !st.IsActive() {
			return domainerrors.AlreadyWithdrawnError(stakeID)
		}
		boosters, err := u.ListBoosters(ctx, st.AccountID, st.LastClaimedAt)
		if err != nil {
			return err
		}
		if _, err := u.RequireWallets(ctx, st.AccountID); err != nil {
			return err
		}

		now := u.Now()
		reward := s.reward(st, boosters, now)
		if err := u.Credit(ctx, st.AccountID, st.Principal.Add(reward)); err != nil {
			return err
		}
		err = u.Record(ctx, &entities.Transaction{
			ReceiverID: &st.AccountID,
			Amount:     st.Principal,
			Kind:       entities.TransactionKindUnstake,
			Memo:       "unstake " + stakeID.String(),
		})
		if err != nil {
			return err
		}
		if reward.IsPositive() {
			err := u.Record(ctx, &entities.Transaction{
				ReceiverID: &st.AccountID,
				Amount:     reward,
				Kind:       entities.TransactionKindClaim,
				Memo:       "reward " + stakeID.String(),
			})
			if err != nil {
				return err
			}
		}

		st.Status = entities.StakeStatusWithdrawn
		st.WithdrawnAt = &now
		st.LastClaimedAt = now
		st.ClaimedTotal = st.ClaimedTotal.Add(reward)
		if err := u.UpdateStake(ctx, st); err != nil {
			return err
		}

		out = &entities.UnstakeResult{StakeID: stakeID, Principal: st.Principal, Reward: reward}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stake withdrawn",
		"stake_id", stakeID,
		"principal", out.Principal.String(),
		"reward", out.Reward.String())
	return out, nil
}

// ClaimReward pays the reward accrued since the last claim and restarts
// accrual. A zero reward changes nothing.
func (s *Service) ClaimReward(ctx context.Context, stakeID uuid.UUID) (decimal.Decimal, error) {
	reward := decimal.Zero
	err := s.ledger.Atomic(ctx, "claim", func(ctx context.Context, u *ledger.Unit) error {
		st, err := u.LockStake(ctx, stakeID)
		if err != nil {
			return err
		}
		if !st.IsActive() {
			return domainerrors.AlreadyWithdrawnError(stakeID)
		}
		boosters, err := u.ListBoosters(ctx, st.AccountID, st.LastClaimedAt)
		if err != nil {
			return err
		}

		reward = s.reward(st, boosters, u.Now())
		if !reward.IsPositive() {
			reward = decimal.Zero
			return nil
		}
		if _, err := u.RequireWallets(ctx, st.AccountID); err != nil {
			return err
		}
		return s.pay(ctx, u, st, reward)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return reward, nil
}

// ClaimAll claims every active stake of the account in one unit.
func (s *Service) ClaimAll(ctx context.Context, accountID int64) (*entities.ClaimAllResult, error) {
	var out *entities.ClaimAllResult
	err := s.ledger.Atomic(ctx, "claim_all", func(ctx context.Context, u *ledger.Unit) error {
		out = &entities.ClaimAllResult{Total: decimal.Zero}
		stakes, err := u.LockActiveStakes(ctx, accountID)
		if err != nil || len(stakes) == 0 {
			return err
		}

		since := stakes[0].LastClaimedAt
		for _, st := range stakes[1:] {
			if st.LastClaimedAt.Before(since) {
				since = st.LastClaimedAt
			}
		}
		boosters, err := u.ListBoosters(ctx, accountID, since)
		if err != nil {
			return err
		}
		if _, err := u.RequireWallets(ctx, accountID); err != nil {
			return err
		}

		for _, st := range stakes {
			reward := s.reward(st, boosters, u.Now())
			if !reward.IsPositive() {
				continue
			}
			if err := s.pay(ctx, u, st, reward); err != nil {
				return err
			}
			out.Claimed++
			out.Total = out.Total.Add(reward)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Claimed > 0 {
		s.logger.Info("Rewards claimed", "account_id", accountID, "stakes", out.Claimed, "total", out.Total.String())
	}
	return out, nil
}

func (s *Service) pay(ctx context.Context, u *ledger.Unit, st *entities.Stake, reward decimal.Decimal) error {
	if err := u.Credit(ctx, st.AccountID, reward); err != nil {
		return err
	}
	err := u.Record(ctx, &entities.Transaction{
		ReceiverID: &st.AccountID,
		Amount:     reward,
		Kind:       entities.TransactionKindClaim,
		Memo:       "reward " + st.ID.String(),
	})
	if err != nil {
		return err
	}
	st.LastClaimedAt = u.Now()
	st.ClaimedTotal = st.ClaimedTotal.Add(reward)
	return u.UpdateStake(ctx, st)
}

// PendingReward reports what ClaimReward would pay right now.
func (s *Service) PendingReward(ctx context.Context, stakeID uuid.UUID) (*entities.StakeView, error) {
	st, err := retry.Run(ctx, s.ledger.Retrier(), "get_stake", func(ctx context.Context) (*entities.Stake, error) {
		return s.store.GetStake(ctx, stakeID)
	})
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, domainerrors.StakeNotFoundError(stakeID)
	}
	if err != nil {
		return nil, err
	}
	views, err := s.views(ctx, st.AccountID, []*entities.Stake{st})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// ActiveStakesFor yields the account's active stakes with their pending
// rewards, fetching stakes page by page as the caller ranges.
func (s *Service) ActiveStakesFor(ctx context.Context, accountID int64) iter.Seq2[*entities.StakeView, error] {
	return func(yield func(*entities.StakeView, error) bool) {
		after := uuid.Nil
		for {
			page, err := retry.Run(ctx, s.ledger.Retrier(), "list_stakes", func(ctx context.Context) ([]*entities.Stake, error) {
				return s.store.ListStakes(ctx, accountID, entities.StakeStatusActive, after, stakePageSize)
			})
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			views, err := s.views(ctx, accountID, page)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, v := range views {
				if !yield(v, nil) {
					return
				}
			}
			if len(page) < stakePageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (s *Service) views(ctx context.Context, accountID int64, stakes []*entities.Stake) ([]*entities.StakeView, error) {
	now := s.ledger.Now()
	since := now
	for _, st := range stakes {
		if st.IsActive() && st.LastClaimedAt.Before(since) {
			since = st.LastClaimedAt
		}
	}
	boosters, err := retry.Run(ctx, s.ledger.Retrier(), "list_boosters", func(ctx context.Context) ([]*entities.Booster, error) {
		return s.store.ListBoosters(ctx, accountID, since)
	})
	if err != nil {
		return nil, err
	}

	multiplier := s.boosters.Policy().MultiplierAt(boosters, now)
	out := make([]*entities.StakeView, 0, len(stakes))
	for _, st := range stakes {
		pending := decimal.Zero
		if st.IsActive() {
			pending = s.reward(st, boosters, now)
		}
		out = append(out, &entities.StakeView{
			Stake:         st,
			PendingReward: pending,
			Multiplier:    multiplier,
			AsOf:          now,
		})
	}
	return out, nil
}
