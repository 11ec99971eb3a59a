package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
)

// ErrLockOrder is returned when a unit takes row locks out of canonical order
// (stakes, then wallets ascending by id, then token state).
var ErrLockOrder = errors.New("lock order violation")

// Unit is a single atomic unit of ledger mutations. It is only valid inside
// the function passed to Service.Atomic; everything it does commits together
// or not at all.
type Unit struct {
	tx  repositories.LedgerTx
	now time.Time
	key *string

	wallets      map[int64]*entities.Wallet
	maxWallet    int64
	tokenLocked  bool
	tokenChanged bool
	touched      map[int64]struct{}
	entries      []*entities.Transaction
}

func newUnit(tx repositories.LedgerTx, now time.Time, key *string) *Unit {
	return &Unit{
		tx:      tx,
		now:     now,
		key:     key,
		wallets: make(map[int64]*entities.Wallet),
		touched: make(map[int64]struct{}),
	}
}

// Now is the instant every mutation of the unit is stamped with.
func (u *Unit) Now() time.Time {
	return u.now
}

// LockWallets locks the given wallets and returns those that exist. Wallets
// already held by the unit are returned again; new ids must sort after every
// wallet locked so far.
func (u *Unit) LockWallets(ctx context.Context, accountIDs ...int64) (map[int64]*entities.Wallet, error) {
	if u.tokenLocked {
		return nil, fmt.Errorf("%w: wallets after token state", ErrLockOrder)
	}

	var fresh []int64
	for _, id := range accountIDs {
		if _, held := u.wallets[id]; !held {
			fresh = append(fresh, id)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	if len(fresh) > 0 && len(u.wallets) > 0 && fresh[0] <= u.maxWallet {
		return nil, fmt.Errorf("%w: wallet %d after wallet %d", ErrLockOrder, fresh[0], u.maxWallet)
	}

	if len(fresh) > 0 {
		locked, err := u.tx.LockWallets(ctx, fresh...)
		if err != nil {
			return nil, err
		}
		for id, w := range locked {
			u.wallets[id] = w
			if id > u.maxWallet || len(u.wallets) == 1 {
				u.maxWallet = id
			}
		}
	}

	out := make(map[int64]*entities.Wallet, len(accountIDs))
	for _, id := range accountIDs {
		if w, ok := u.wallets[id]; ok {
			out[id] = w
		}
	}
	return out, nil
}

// RequireWallets locks the wallets and fails with WalletNotFound for the
// first one missing.
func (u *Unit) RequireWallets(ctx context.Context, accountIDs ...int64) (map[int64]*entities.Wallet, error) {
	wallets, err := u.LockWallets(ctx, accountIDs...)
	if err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		if _, ok := wallets[id]; !ok {
			return nil, domainerrors.WalletNotFoundError(id)
		}
	}
	return wallets, nil
}

// EnsureWallet inserts a wallet with the given opening balance unless the
// account already has one. A positive opening balance is logged as a bonus.
func (u *Unit) EnsureWallet(ctx context.Context, accountID int64, opening decimal.Decimal) (bool, error) {
	w := &entities.Wallet{
		AccountID: accountID,
		Balance:   opening,
		CreatedAt: u.now,
		UpdatedAt: u.now,
	}
	created, err := u.tx.InsertWallet(ctx, w)
	if err != nil || !created {
		return false, err
	}
	u.touched[accountID] = struct{}{}

	if opening.IsPositive() {
		err := u.Record(ctx, &entities.Transaction{
			ReceiverID: &accountID,
			Amount:     opening,
			Kind:       entities.TransactionKindBonus,
			Memo:       "startup bonus",
		})
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func (u *Unit) held(accountID int64) (*entities.Wallet, error) {
	w, ok := u.wallets[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %d is not locked by this unit", ErrLockOrder, accountID)
	}
	return w, nil
}

// Debit removes amount from a locked wallet, failing with InsufficientFunds
// rather than letting the balance go negative.
func (u *Unit) Debit(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	w, err := u.held(accountID)
	if err != nil {
		return err
	}
	if w.Balance.LessThan(amount) {
		return domainerrors.InsufficientFundsError(accountID, w.Balance, amount)
	}
	return u.setBalance(ctx, w, w.Balance.Sub(amount))
}

// Credit adds amount to a locked wallet.
func (u *Unit) Credit(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	w, err := u.held(accountID)
	if err != nil {
		return err
	}
	return u.setBalance(ctx, w, w.Balance.Add(amount))
}

func (u *Unit) setBalance(ctx context.Context, w *entities.Wallet, balance decimal.Decimal) error {
	if err := u.tx.SetBalance(ctx, w.AccountID, balance, u.now); err != nil {
		return err
	}
	w.Balance = balance
	w.UpdatedAt = u.now
	u.touched[w.AccountID] = struct{}{}
	return nil
}

// Record appends a log entry stamped with the unit's instant. The first entry
// of a unit carries the request's idempotency key, if any.
func (u *Unit) Record(ctx context.Context, t *entities.Transaction) error {
	t.CreatedAt = u.now
	if u.key != nil && len(u.entries) == 0 {
		t.IdempotencyKey = u.key
	}
	if err := u.tx.AppendTransaction(ctx, t); err != nil {
		return err
	}
	u.entries = append(u.entries, t)
	return nil
}

// LockTokenState locks the token singleton. No wallet may be locked after it.
func (u *Unit) LockTokenState(ctx context.Context) (*entities.TokenState, error) {
	st, err := u.tx.LockTokenState(ctx)
	if err != nil {
		return nil, err
	}
	u.tokenLocked = true
	return st, nil
}

func (u *Unit) UpdateTokenState(ctx context.Context, st *entities.TokenState) error {
	if !u.tokenLocked {
		return fmt.Errorf("%w: token state updated without lock", ErrLockOrder)
	}
	st.UpdatedAt = u.now
	if err := u.tx.UpdateTokenState(ctx, st); err != nil {
		return err
	}
	u.tokenChanged = true
	return nil
}

// LockStake locks one stake. Stakes come first in the lock order.
func (u *Unit) LockStake(ctx context.Context, stakeID uuid.UUID) (*entities.Stake, error) {
	if err := u.stakeLockAllowed(); err != nil {
		return nil, err
	}
	s, err := u.tx.LockStake(ctx, stakeID)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, domainerrors.StakeNotFoundError(stakeID)
	}
	return s, err
}

// LockActiveStakes locks every active stake of the account.
func (u *Unit) LockActiveStakes(ctx context.Context, accountID int64) ([]*entities.Stake, error) {
	if err := u.stakeLockAllowed(); err != nil {
		return nil, err
	}
	return u.tx.LockActiveStakes(ctx, accountID)
}

func (u *Unit) stakeLockAllowed() error {
	if len(u.wallets) > 0 || u.tokenLocked {
		return fmt.Errorf("%w: stake after wallets or token state", ErrLockOrder)
	}
	return nil
}

func (u *Unit) InsertStake(ctx context.Context, s *entities.Stake) error {
	return u.tx.InsertStake(ctx, s)
}

func (u *Unit) UpdateStake(ctx context.Context, s *entities.Stake) error {
	return u.tx.UpdateStake(ctx, s)
}

func (u *Unit) InsertBooster(ctx context.Context, b *entities.Booster) error {
	return u.tx.InsertBooster(ctx, b)
}

// ListBoosters reads the account's boosters in force after since, inside the unit.
func (u *Unit) ListBoosters(ctx context.Context, accountID int64, since time.Time) ([]*entities.Booster, error) {
	return u.tx.ListBoosters(ctx, accountID, since)
}

// Entries returns the log entries recorded so far.
func (u *Unit) Entries() []*entities.Transaction {
	return u.entries
}

func (u *Unit) touchedAccounts() []int64 {
	ids := make([]int64, 0, len(u.touched))
	for id := range u.touched {
		ids = append(ids, id)
	}
	return ids
}
