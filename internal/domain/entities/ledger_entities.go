package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies a log entry
type TransactionKind string

const (
	TransactionKindTransfer TransactionKind = "transfer"
	TransactionKindMint     TransactionKind = "mint"
	TransactionKindStake    TransactionKind = "stake"
	TransactionKindUnstake  TransactionKind = "unstake"
	TransactionKindClaim    TransactionKind = "claim"
	TransactionKindSell     TransactionKind = "sell"
	TransactionKindBonus    TransactionKind = "bonus"
	TransactionKindBooster  TransactionKind = "booster"
)

// Validate checks if the transaction kind is valid
func (k TransactionKind) Validate() error {
	switch k {
	case TransactionKindTransfer, TransactionKindMint, TransactionKindStake,
		TransactionKindUnstake, TransactionKindClaim, TransactionKindSell,
		TransactionKindBonus, TransactionKindBooster:
		return nil
	default:
		return fmt.Errorf("invalid transaction kind: %s", k)
	}
}

// StakeStatus represents the lifecycle state of a stake
type StakeStatus string

const (
	StakeStatusActive    StakeStatus = "active"
	StakeStatusWithdrawn StakeStatus = "withdrawn"
)

// Validate checks if the stake status is valid
func (s StakeStatus) Validate() error {
	switch s {
	case StakeStatusActive, StakeStatusWithdrawn:
		return nil
	default:
		return fmt.Errorf("invalid stake status: %s", s)
	}
}

// Wallet is the balance record of one account.
type Wallet struct {
	AccountID int64           `json:"account_id" db:"account_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate validates the wallet
func (w *Wallet) Validate() error {
	if w.Balance.IsNegative() {
		return fmt.Errorf("wallet balance cannot be negative")
	}
	return nil
}

// Transaction is an immutable log entry. SenderID is nil for system-origin
// entries (mint, bonus, claim) and ReceiverID is nil for entries leaving
// circulation (stake, sell, booster).
type Transaction struct {
	ID             int64           `json:"id" db:"id"`
	SenderID       *int64          `json:"sender_id,omitempty" db:"sender_id"`
	ReceiverID     *int64          `json:"receiver_id,omitempty" db:"receiver_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Kind           TransactionKind `json:"kind" db:"kind"`
	Memo           string          `json:"memo,omitempty" db:"memo"`
	IdempotencyKey *string         `json:"-" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Validate validates the log entry before it is appended
func (t *Transaction) Validate() error {
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be positive")
	}
	if t.SenderID == nil && t.ReceiverID == nil {
		return fmt.Errorf("transaction requires a sender or a receiver")
	}
	return nil
}

// SignedAmountFor returns the entry's effect on the given account's balance.
func (t *Transaction) SignedAmountFor(accountID int64) decimal.Decimal {
	out := decimal.Zero
	if t.ReceiverID != nil && *t.ReceiverID == accountID {
		out = out.Add(t.Amount)
	}
	if t.SenderID != nil && *t.SenderID == accountID {
		out = out.Sub(t.Amount)
	}
	return out
}

// HistoryCursor is the keyset position of the last entry of a history page.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        int64
}

// Stake is principal committed to earn time-based reward.
type Stake struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	Principal     decimal.Decimal `json:"principal" db:"principal"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	LastClaimedAt time.Time       `json:"last_claimed_at" db:"last_claimed_at"`
	ClaimedTotal  decimal.Decimal `json:"claimed_total" db:"claimed_total"`
	Status        StakeStatus     `json:"status" db:"status"`
	WithdrawnAt   *time.Time      `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
}

// Validate validates the stake
func (s *Stake) Validate() error {
	if s.ID == uuid.Nil {
		return fmt.Errorf("stake ID is required")
	}
	if err := s.Status.Validate(); err != nil {
		return err
	}
	if s.Status == StakeStatusActive && !s.Principal.IsPositive() {
		return fmt.Errorf("active stake requires positive principal")
	}
	if s.LastClaimedAt.Before(s.StartedAt) {
		return fmt.Errorf("last claim precedes stake start")
	}
	return nil
}

// IsActive returns true while the stake accrues reward
func (s *Stake) IsActive() bool {
	return s.Status == StakeStatusActive
}

// Booster multiplies reward accrual over [ActivatedAt, ExpiresAt).
type Booster struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	AccountID   int64           `json:"account_id" db:"account_id"`
	Kind        string          `json:"kind" db:"kind"`
	Multiplier  decimal.Decimal `json:"multiplier" db:"multiplier"`
	ActivatedAt time.Time       `json:"activated_at" db:"activated_at"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
}

// ActiveAt reports whether the booster applies at instant t.
func (b *Booster) ActiveAt(t time.Time) bool {
	return !t.Before(b.ActivatedAt) && t.Before(b.ExpiresAt)
}

// BoosterSpec is one purchasable catalog entry.
type BoosterSpec struct {
	Kind       string          `json:"kind"`
	Cost       decimal.Decimal `json:"cost"`
	Duration   time.Duration   `json:"duration"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Validate validates the catalog entry
func (s BoosterSpec) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("booster kind is required")
	}
	if !s.Cost.IsPositive() {
		return fmt.Errorf("booster %s: cost must be positive", s.Kind)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("booster %s: duration must be positive", s.Kind)
	}
	if !s.Multiplier.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("booster %s: multiplier must exceed 1", s.Kind)
	}
	return nil
}

// TokenState is the persisted singleton of supply and price.
type TokenState struct {
	TotalSupply decimal.Decimal `json:"total_supply" db:"total_supply"`
	Price       decimal.Decimal `json:"price" db:"price"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TokenInfo is the read model combining configured metadata with TokenState.
type TokenInfo struct {
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    int32           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Price       decimal.Decimal `json:"price"`
	SellRate    decimal.Decimal `json:"sell_rate"`
	MarketCap   decimal.Decimal `json:"market_cap"`
}

// SellResult is returned by a sell-to-system operation.
type SellResult struct {
	Transaction   *Transaction    `json:"transaction"`
	Amount        decimal.Decimal `json:"amount"`
	CreditedValue decimal.Decimal `json:"credited_value"`
	Policy        string          `json:"policy"`
}

// StakeView is an active stake with its reward accrued up to AsOf.
type StakeView struct {
	Stake         *Stake          `json:"stake"`
	PendingReward decimal.Decimal `json:"pending_reward"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	AsOf          time.Time       `json:"as_of"`
}

// UnstakeResult is returned when a stake is withdrawn.
type UnstakeResult struct {
	StakeID   uuid.UUID       `json:"stake_id"`
	Principal decimal.Decimal `json:"principal"`
	Reward    decimal.Decimal `json:"reward"`
}

// ClaimAllResult sums the rewards claimed across an account's stakes.
type ClaimAllResult struct {
	Claimed int             `json:"claimed"`
	Total   decimal.Decimal `json:"total"`
}

// ReconciliationResult compares a wallet balance with its log entries.
type ReconciliationResult struct {
	AccountID   int64           `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	LedgerSum   decimal.Decimal `json:"ledger_sum"`
	Discrepancy decimal.Decimal `json:"discrepancy"`
	CheckedAt   time.Time       `json:"checked_at"`
}

// Balanced reports whether balance and log agree.
func (r *ReconciliationResult) Balanced() bool {
	return r.Discrepancy.IsZero()
}
