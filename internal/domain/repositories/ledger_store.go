package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
)

// ErrRecordNotFound is wrapped by store lookups that match no row.
var ErrRecordNotFound = errors.New("record not found")

// LedgerStore is the durable storage of wallets, the transaction log, stakes,
// boosters and token state. Every mutation happens inside RunAtomic.
type LedgerStore interface {
	// RunAtomic executes fn in one storage transaction. fn's error rolls
	// everything back; a nil error commits.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	GetWallet(ctx context.Context, accountID int64) (*entities.Wallet, error)
	GetTokenState(ctx context.Context) (*entities.TokenState, error)
	// EnsureTokenState seeds the singleton row if it does not exist yet.
	EnsureTokenState(ctx context.Context, supply, price decimal.Decimal) error

	// ListTransactions returns up to limit entries touching accountID, newest
	// first, strictly after the cursor when one is given.
	ListTransactions(ctx context.Context, accountID int64, after *entities.HistoryCursor, limit int) ([]*entities.Transaction, error)
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error)
	// SignedEntries returns every entry where accountID is sender or receiver.
	SignedEntries(ctx context.Context, accountID int64) ([]*entities.Transaction, error)

	GetStake(ctx context.Context, stakeID uuid.UUID) (*entities.Stake, error)
	// ListStakes pages an account's stakes with the given status in id order.
	ListStakes(ctx context.Context, accountID int64, status entities.StakeStatus, afterID uuid.UUID, limit int) ([]*entities.Stake, error)

	// ListBoosters returns the account's boosters still in force after since.
	ListBoosters(ctx context.Context, accountID int64, since time.Time) ([]*entities.Booster, error)
	DeleteBoostersExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ListAccountIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// LedgerTx is the set of statements available inside an atomic unit.
// Row locks must be taken stake first, then wallets, then token state.
type LedgerTx interface {
	// LockWallets locks the given wallets in ascending id order and returns
	// the ones that exist.
	LockWallets(ctx context.Context, accountIDs ...int64) (map[int64]*entities.Wallet, error)
	// InsertWallet inserts w unless the account already has a wallet.
	InsertWallet(ctx context.Context, w *entities.Wallet) (bool, error)
	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error
	// AppendTransaction appends a log entry and sets its ID.
	AppendTransaction(ctx context.Context, t *entities.Transaction) error
	// SignedEntries returns the account's entries as seen by this unit.
	SignedEntries(ctx context.Context, accountID int64) ([]*entities.Transaction, error)

	LockTokenState(ctx context.Context) (*entities.TokenState, error)
	UpdateTokenState(ctx context.Context, state *entities.TokenState) error

	InsertStake(ctx context.Context, s *entities.Stake) error
	LockStake(ctx context.Context, stakeID uuid.UUID) (*entities.Stake, error)
	// LockActiveStakes locks every active stake of the account in id order.
	LockActiveStakes(ctx context.Context, accountID int64) ([]*entities.Stake, error)
	UpdateStake(ctx context.Context, s *entities.Stake) error

	InsertBooster(ctx context.Context, b *entities.Booster) error
	ListBoosters(ctx context.Context, accountID int64, since time.Time) ([]*entities.Booster, error)
}
