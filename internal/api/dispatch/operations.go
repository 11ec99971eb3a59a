package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/booster"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/staking"
)

const (
	KindBalance          Kind = "balance"
	KindTransfer         Kind = "transfer"
	KindMint             Kind = "mint"
	KindSetPrice         Kind = "set_price"
	KindSell             Kind = "sell"
	KindTokenInfo        Kind = "token_info"
	KindMarketCap        Kind = "market_cap"
	KindHistory          Kind = "history"
	KindStake            Kind = "stake"
	KindUnstake          Kind = "unstake"
	KindClaim            Kind = "claim"
	KindClaimAll         Kind = "claim_all"
	KindStakes           Kind = "stakes"
	KindPendingReward    Kind = "pending_reward"
	KindBoosterCatalog   Kind = "booster_catalog"
	KindBuyBooster       Kind = "buy_booster"
	KindActiveMultiplier Kind = "active_multiplier"
)

const defaultHistoryLimit = 10

type (
	TransferRequest struct {
		To     int64           `json:"to" validate:"required"`
		Amount decimal.Decimal `json:"amount"`
	}
	MintRequest struct {
		AccountID int64           `json:"account_id" validate:"required"`
		Amount    decimal.Decimal `json:"amount"`
	}
	SetPriceRequest struct {
		Price decimal.Decimal `json:"price"`
	}
	AmountRequest struct {
		Amount decimal.Decimal `json:"amount"`
	}
	HistoryRequest struct {
		Limit int `json:"limit" validate:"omitempty,min=1,max=100"`
	}
	StakeRequest struct {
		StakeID uuid.UUID `json:"stake_id" validate:"required"`
	}
	BoosterRequest struct {
		Booster string `json:"booster" validate:"required,max=64"`
	}
	NoPayload struct{}
)

// StakeResponse is returned when a stake is opened
type StakeResponse struct {
	StakeID uuid.UUID `json:"stake_id"`
}

// ClaimResponse is returned by a single-stake claim
type ClaimResponse struct {
	StakeID uuid.UUID       `json:"stake_id"`
	Reward  decimal.Decimal `json:"reward"`
}

// BoosterResponse is returned by a booster purchase
type BoosterResponse struct {
	BoosterID uuid.UUID `json:"booster_id"`
	Kind      string    `json:"kind"`
}

// MultiplierResponse reports the combined multiplier in force
type MultiplierResponse struct {
	Multiplier decimal.Decimal `json:"multiplier"`
	Policy     booster.Policy  `json:"policy"`
}

// MarketCapResponse reports supply × price
type MarketCapResponse struct {
	MarketCap decimal.Decimal `json:"market_cap"`
}

// New builds the registry of every ledger operation exposed to front ends.
func New(ledgerSvc *ledger.Service, stakingSvc *staking.Service, boosterSvc *booster.Service) *Registry {
	r := NewRegistry()

	r.Register(KindBalance, Typed(func(ctx context.Context, actor int64, _ NoPayload) (any, error) {
		return ledgerSvc.GetWallet(ctx, actor, true)
	}))
	r.Register(KindTransfer, Typed(func(ctx context.Context, actor int64, p TransferRequest) (any, error) {
		return ledgerSvc.Transfer(ctx, actor, p.To, p.Amount)
	}))
	r.Register(KindMint, Typed(func(ctx context.Context, actor int64, p MintRequest) (any, error) {
		return ledgerSvc.Mint(ctx, actor, p.AccountID, p.Amount)
	}))
	r.Register(KindSetPrice, Typed(func(ctx context.Context, actor int64, p SetPriceRequest) (any, error) {
		return ledgerSvc.SetPrice(ctx, actor, p.Price)
	}))
	r.Register(KindSell, Typed(func(ctx context.Context, actor int64, p AmountRequest) (any, error) {
		return ledgerSvc.SellToSystem(ctx, actor, p.Amount)
	}))
	r.Register(KindTokenInfo, Typed(func(ctx context.Context, _ int64, _ NoPayload) (any, error) {
		return ledgerSvc.TokenInfo(ctx)
	}))
	r.Register(KindMarketCap, Typed(func(ctx context.Context, _ int64, _ NoPayload) (any, error) {
		mc, err := ledgerSvc.MarketCap(ctx)
		if err != nil {
			return nil, err
		}
		return &MarketCapResponse{MarketCap: mc}, nil
	}))
	r.Register(KindHistory, Typed(func(ctx context.Context, actor int64, p HistoryRequest) (any, error) {
		if p.Limit == 0 {
			p.Limit = defaultHistoryLimit
		}
		txs, err := ledgerSvc.RecentTransactions(ctx, actor, p.Limit)
		if err != nil {
			return nil, err
		}
		if txs == nil {
			txs = []*entities.Transaction{}
		}
		return txs, nil
	}))

	r.Register(KindStake, Typed(func(ctx context.Context, actor int64, p AmountRequest) (any, error) {
		id, err := stakingSvc.Stake(ctx, actor, p.Amount)
		if err != nil {
			return nil, err
		}
		return &StakeResponse{StakeID: id}, nil
	}))
	r.Register(KindUnstake, Typed(func(ctx context.Context, actor int64, p StakeRequest) (any, error) {
		if err := ownStake(ctx, stakingSvc, actor, p.StakeID); err != nil {
			return nil, err
		}
		return stakingSvc.Unstake(ctx, p.StakeID)
	}))
	r.Register(KindClaim, Typed(func(ctx context.Context, actor int64, p StakeRequest) (any, error) {
		if err := ownStake(ctx, stakingSvc, actor, p.StakeID); err != nil {
			return nil, err
		}
		reward, err := stakingSvc.ClaimReward(ctx, p.StakeID)
		if err != nil {
			return nil, err
		}
		return &ClaimResponse{StakeID: p.StakeID, Reward: reward}, nil
	}))
	r.Register(KindClaimAll, Typed(func(ctx context.Context, actor int64, _ NoPayload) (any, error) {
		return stakingSvc.ClaimAll(ctx, actor)
	}))
	r.Register(KindStakes, Typed(func(ctx context.Context, actor int64, _ NoPayload) (any, error) {
		views := []*entities.StakeView{}
		for v, err := range stakingSvc.ActiveStakesFor(ctx, actor) {
			if err != nil {
				return nil, err
			}
			views = append(views, v)
		}
		return views, nil
	}))
	r.Register(KindPendingReward, Typed(func(ctx context.Context, actor int64, p StakeRequest) (any, error) {
		view, err := stakingSvc.PendingReward(ctx, p.StakeID)
		if err != nil {
			return nil, err
		}
		if view.Stake.AccountID != actor {
			return nil, domainerrors.StakeNotFoundError(p.StakeID)
		}
		return view, nil
	}))

	r.Register(KindBoosterCatalog, Typed(func(_ context.Context, _ int64, _ NoPayload) (any, error) {
		return boosterSvc.Catalog(), nil
	}))
	r.Register(KindBuyBooster, Typed(func(ctx context.Context, actor int64, p BoosterRequest) (any, error) {
		id, err := boosterSvc.Purchase(ctx, actor, p.Booster)
		if err != nil {
			return nil, err
		}
		return &BoosterResponse{BoosterID: id, Kind: p.Booster}, nil
	}))
	r.Register(KindActiveMultiplier, Typed(func(ctx context.Context, actor int64, _ NoPayload) (any, error) {
		m, err := boosterSvc.ActiveMultiplierFor(ctx, actor, ledgerSvc.Now())
		if err != nil {
			return nil, err
		}
		return &MultiplierResponse{Multiplier: m, Policy: boosterSvc.Policy()}, nil
	}))

	return r
}

// ownStake hides stakes of other accounts behind NotFound.
func ownStake(ctx context.Context, stakingSvc *staking.Service, actor int64, stakeID uuid.UUID) error {
	view, err := stakingSvc.PendingReward(ctx, stakeID)
	if err != nil {
		return err
	}
	if view.Stake.AccountID != actor {
		return domainerrors.StakeNotFoundError(stakeID)
	}
	return nil
}
