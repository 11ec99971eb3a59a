package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	domainrepos "github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/database"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/pool"
)

const (
	walletColumns      = `account_id, balance, created_at, updated_at`
	transactionColumns = `id, sender_id, receiver_id, amount, kind, memo, idempotency_key, created_at`
	stakeColumns       = `id, account_id, principal, started_at, last_claimed_at, claimed_total, status, withdrawn_at`
	boosterColumns     = `id, account_id, kind, multiplier, activated_at, expires_at`
)

// LedgerRepository is the SQL LedgerStore. PostgreSQL units serialize on row
// locks; SQLite allows a single writer, so units there queue on writer.
type LedgerRepository struct {
	pool          *pool.Pool
	driver        string
	bind          int
	commitTimeout time.Duration
	writer        *semaphore.Weighted
	logger        *zap.Logger
}

var _ domainrepos.LedgerStore = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(p *pool.Pool, commitTimeout time.Duration, logger *zap.Logger) *LedgerRepository {
	if commitTimeout <= 0 {
		commitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := p.DriverName()
	r := &LedgerRepository{
		pool:          p,
		driver:        driver,
		bind:          sqlx.BindType(driver),
		commitTimeout: commitTimeout,
		logger:        logger,
	}
	if driver == database.DriverSQLite {
		r.writer = semaphore.NewWeighted(1)
	}
	return r
}

func (r *LedgerRepository) q(query string) string {
	return sqlx.Rebind(r.bind, query)
}

func (r *LedgerRepository) forUpdate() string {
	if r.driver == database.DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (r *LedgerRepository) txOptions() *sql.TxOptions {
	if r.driver == database.DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

// acquireWriter serializes writers on SQLite and is a no-op elsewhere.
func (r *LedgerRepository) acquireWriter(ctx context.Context) (func(), error) {
	if r.writer == nil {
		return func() {}, nil
	}
	if err := r.writer.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { r.writer.Release(1) }, nil
}

// driverError marks a failure of the database itself, as opposed to an
// error produced by the unit's own logic.
type driverError struct {
	op  string
	err error
}

func (e *driverError) Error() string { return e.op + ": " + e.err.Error() }

func (e *driverError) Unwrap() error { return e.err }

func dbErr(op string, err error) error {
	return &driverError{op: op, err: err}
}

// storeErr passes domain errors and not-found through and turns everything
// else into a retryable StoreError.
func (r *LedgerRepository) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domainerrors.DomainError
	if errors.As(err, &domainErr) || errors.Is(err, domainrepos.ErrRecordNotFound) || errors.Is(err, context.Canceled) {
		return err
	}
	var de *driverError
	if errors.As(err, &de) {
		op, err = de.op, de.err
	}
	r.logger.Warn("Ledger store failure", zap.String("operation", op), zap.Error(err))
	return domainerrors.StoreError(op, err)
}

// unitErr classifies the outcome of an atomic unit: database failures and
// timeouts become StoreError, errors from the unit's own logic pass through.
func (r *LedgerRepository) unitErr(err error) error {
	var de *driverError
	if errors.As(err, &de) || errors.Is(err, context.DeadlineExceeded) {
		return r.storeErr("atomic unit", err)
	}
	return err
}

// ===== Atomic units =====

// RunAtomic executes fn in a single transaction bounded by the commit timeout.
func (r *LedgerRepository) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx domainrepos.LedgerTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.commitTimeout)
	defer cancel()

	release, err := r.acquireWriter(ctx)
	if err != nil {
		return r.storeErr("await writer", err)
	}
	defer release()

	err = r.pool.With(ctx, func(conn *pool.Conn) error {
		tx, err := conn.BeginTxx(ctx, r.txOptions())
		if err != nil {
			return dbErr("begin transaction", err)
		}
		committed := false
		defer func() {
			if committed {
				return
			}
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
		}()

		if err := fn(ctx, &ledgerTx{tx: tx, repo: r}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return dbErr("commit transaction", err)
		}
		committed = true
		return nil
	})
	return r.unitErr(err)
}

type ledgerTx struct {
	tx   *sqlx.Tx
	repo *LedgerRepository
}

func (t *ledgerTx) LockWallets(ctx context.Context, accountIDs ...int64) (map[int64]*entities.Wallet, error) {
	ids := append([]int64(nil), accountIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	query := t.repo.q(`SELECT ` + walletColumns + ` FROM wallets WHERE account_id = ?` + t.repo.forUpdate())
	out := make(map[int64]*entities.Wallet, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		var w entities.Wallet
		err := t.tx.GetContext(ctx, &w, query, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, dbErr(fmt.Sprintf("lock wallet %d", id), err)
		}
		out[id] = &w
	}
	return out, nil
}

func (t *ledgerTx) InsertWallet(ctx context.Context, w *entities.Wallet) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, fmt.Errorf("validate wallet: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.repo.q(`
		INSERT INTO wallets (account_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO NOTHING`),
		w.AccountID, w.Balance, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if err != nil {
		return false, dbErr("insert wallet", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("insert wallet", err)
	}
	return n == 1, nil
}

func (t *ledgerTx) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	if balance.IsNegative() {
		return fmt.Errorf("refusing negative balance %s for account %d", balance, accountID)
	}
	res, err := t.tx.ExecContext(ctx, t.repo.q(`
		UPDATE wallets SET balance = ?, updated_at = ? WHERE account_id = ?`),
		balance, at.UTC(), accountID)
	if err != nil {
		return dbErr("update balance", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("wallet %d: %w", accountID, domainrepos.ErrRecordNotFound)
	}
	return nil
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, txn *entities.Transaction) error {
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("validate transaction: %w", err)
	}
	err := t.tx.QueryRowxContext(ctx, t.repo.q(`
		INSERT INTO transactions (sender_id, receiver_id, amount, kind, memo, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		txn.SenderID, txn.ReceiverID, txn.Amount, string(txn.Kind), txn.Memo, txn.IdempotencyKey, txn.CreatedAt.UTC(),
	).Scan(&txn.ID)
	if err != nil {
		if txn.IdempotencyKey != nil && isUniqueViolation(err) {
			return domainerrors.DuplicateRequestError(*txn.IdempotencyKey)
		}
		return dbErr("append transaction", err)
	}
	return nil
}

func (t *ledgerTx) LockTokenState(ctx context.Context) (*entities.TokenState, error) {
	var st entities.TokenState
	err := t.tx.GetContext(ctx, &st, t.repo.q(
		`SELECT total_supply, price, updated_at FROM token_state WHERE id = 1`+t.repo.forUpdate()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token state: %w", domainrepos.ErrRecordNotFound)
	}
	if err != nil {
		return nil, dbErr("lock token state", err)
	}
	return &st, nil
}

func (t *ledgerTx) UpdateTokenState(ctx context.Context, st *entities.TokenState) error {
	if st.TotalSupply.IsNegative() || !st.Price.IsPositive() {
		return fmt.Errorf("invalid token state supply=%s price=%s", st.TotalSupply, st.Price)
	}
	_, err := t.tx.ExecContext(ctx, t.repo.q(`
		UPDATE token_state SET total_supply = ?, price = ?, updated_at = ? WHERE id = 1`),
		st.TotalSupply, st.Price, st.UpdatedAt.UTC())
	if err != nil {
		return dbErr("update token state", err)
	}
	return nil
}

func (t *ledgerTx) InsertStake(ctx context.Context, s *entities.Stake) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validate stake: %w", err)
	}
	_, err := t.tx.ExecContext(ctx, t.repo.q(`
		INSERT INTO stakes (`+stakeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.AccountID, s.Principal, s.StartedAt.UTC(), s.LastClaimedAt.UTC(),
		s.ClaimedTotal, string(s.Status), utcPtr(s.WithdrawnAt))
	if err != nil {
		return dbErr("insert stake", err)
	}
	return nil
}

func (t *ledgerTx) LockStake(ctx context.Context, stakeID uuid.UUID) (*entities.Stake, error) {
	var s entities.Stake
	err := t.tx.GetContext(ctx, &s, t.repo.q(
		`SELECT `+stakeColumns+` FROM stakes WHERE id = ?`+t.repo.forUpdate()), stakeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stake %s: %w", stakeID, domainrepos.ErrRecordNotFound)
	}
	if err != nil {
		return nil, dbErr("lock stake", err)
	}
	return &s, nil
}

func (t *ledgerTx) LockActiveStakes(ctx context.Context, accountID int64) ([]*entities.Stake, error) {
	var stakes []*entities.Stake
	err := t.tx.SelectContext(ctx, &stakes, t.repo.q(
		`SELECT `+stakeColumns+` FROM stakes WHERE account_id = ? AND status = ? ORDER BY id`+t.repo.forUpdate()),
		accountID, string(entities.StakeStatusActive))
	if err != nil {
		return nil, dbErr("lock active stakes", err)
	}
	return stakes, nil
}

func (t *ledgerTx) UpdateStake(ctx context.Context, s *entities.Stake) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validate stake: %w", err)
	}
	_, err := t.tx.ExecContext(ctx, t.repo.q(`
		UPDATE stakes
		SET principal = ?, last_claimed_at = ?, claimed_total = ?, status = ?, withdrawn_at = ?
		WHERE id = ?`),
		s.Principal, s.LastClaimedAt.UTC(), s.ClaimedTotal, string(s.Status), utcPtr(s.WithdrawnAt), s.ID)
	if err != nil {
		return dbErr("update stake", err)
	}
	return nil
}

func (t *ledgerTx) InsertBooster(ctx context.Context, b *entities.Booster) error {
	_, err := t.tx.ExecContext(ctx, t.repo.q(`
		INSERT INTO boosters (`+boosterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`),
		b.ID, b.AccountID, b.Kind, b.Multiplier, b.ActivatedAt.UTC(), b.ExpiresAt.UTC())
	if err != nil {
		return dbErr("insert booster", err)
	}
	return nil
}

func (t *ledgerTx) ListBoosters(ctx context.Context, accountID int64, since time.Time) ([]*entities.Booster, error) {
	var boosters []*entities.Booster
	err := t.tx.SelectContext(ctx, &boosters, t.repo.q(listBoostersQuery), accountID, since.UTC())
	if err != nil {
		return nil, dbErr("list boosters", err)
	}
	return boosters, nil
}

// SignedEntries reads the account's entries inside the unit, so a caller
// holding the wallet lock sees exactly the entries behind its balance.
func (t *ledgerTx) SignedEntries(ctx context.Context, accountID int64) ([]*entities.Transaction, error) {
	var txns []*entities.Transaction
	err := t.tx.SelectContext(ctx, &txns, t.repo.q(signedEntriesQuery), accountID, accountID)
	if err != nil {
		return nil, dbErr("signed entries", err)
	}
	return txns, nil
}

const listBoostersQuery = `SELECT ` + boosterColumns + ` FROM boosters
	WHERE account_id = ? AND expires_at > ?
	ORDER BY activated_at, id`

// ===== Reads =====

// GetWallet retrieves a wallet by account id
func (r *LedgerRepository) GetWallet(ctx context.Context, accountID int64) (*entities.Wallet, error) {
	var w entities.Wallet
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.GetContext(ctx, &w, r.q(`SELECT `+walletColumns+` FROM wallets WHERE account_id = ?`), accountID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %d: %w", accountID, domainrepos.ErrRecordNotFound)
	}
	if err != nil {
		return nil, r.storeErr("get wallet", err)
	}
	return &w, nil
}

func (r *LedgerRepository) GetTokenState(ctx context.Context) (*entities.TokenState, error) {
	var st entities.TokenState
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.GetContext(ctx, &st, `SELECT total_supply, price, updated_at FROM token_state WHERE id = 1`)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token state: %w", domainrepos.ErrRecordNotFound)
	}
	if err != nil {
		return nil, r.storeErr("get token state", err)
	}
	return &st, nil
}

func (r *LedgerRepository) EnsureTokenState(ctx context.Context, supply, price decimal.Decimal) error {
	release, err := r.acquireWriter(ctx)
	if err != nil {
		return r.storeErr("await writer", err)
	}
	defer release()

	err = r.pool.With(ctx, func(conn *pool.Conn) error {
		_, err := conn.ExecContext(ctx, r.q(`
			INSERT INTO token_state (id, total_supply, price, updated_at)
			VALUES (1, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			supply, price, time.Now().UTC())
		return err
	})
	return r.storeErr("seed token state", err)
}

// ListTransactions pages an account's log newest first using a keyset cursor.
func (r *LedgerRepository) ListTransactions(ctx context.Context, accountID int64, after *entities.HistoryCursor, limit int) ([]*entities.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE (sender_id = ? OR receiver_id = ?)`
	args := []interface{}{accountID, accountID}
	if after != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		at := after.CreatedAt.UTC()
		args = append(args, at, at, after.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var txns []*entities.Transaction
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.SelectContext(ctx, &txns, r.q(query), args...)
	})
	if err != nil {
		return nil, r.storeErr("list transactions", err)
	}
	return txns, nil
}

func (r *LedgerRepository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error) {
	var txn entities.Transaction
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.GetContext(ctx, &txn, r.q(`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ?`), key)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key: %w", domainrepos.ErrRecordNotFound)
	}
	if err != nil {
		return nil, r.storeErr("find by idempotency key", err)
	}
	return &txn, nil
}

const signedEntriesQuery = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE sender_id = ? OR receiver_id = ? ORDER BY id`

// SignedEntries returns every entry that moved value into or out of the account.
func (r *LedgerRepository) SignedEntries(ctx context.Context, accountID int64) ([]*entities.Transaction, error) {
	var txns []*entities.Transaction
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.SelectContext(ctx, &txns, r.q(signedEntriesQuery), accountID, accountID)
	})
	if err != nil {
		return nil, r.storeErr("signed entries", err)
	}
	return txns, nil
}

func (r *LedgerRepository) GetStake(ctx context.Context, stakeID uuid.UUID) (*entities.Stake, error) {
	var s entities.Stake
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.GetContext(ctx, &s, r.q(`SELECT `+stakeColumns+` FROM stakes WHERE id = ?`), stakeID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stake %s: %w", stakeID, domainrepos.ErrRecordNotFound)
	}
	if err != nil {
		return nil, r.storeErr("get stake", err)
	}
	return &s, nil
}

func (r *LedgerRepository) ListStakes(ctx context.Context, accountID int64, status entities.StakeStatus, afterID uuid.UUID, limit int) ([]*entities.Stake, error) {
	var stakes []*entities.Stake
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.SelectContext(ctx, &stakes, r.q(`
			SELECT `+stakeColumns+` FROM stakes
			WHERE account_id = ? AND status = ? AND id > ?
			ORDER BY id
			LIMIT ?`),
			accountID, string(status), afterID, limit)
	})
	if err != nil {
		return nil, r.storeErr("list stakes", err)
	}
	return stakes, nil
}

func (r *LedgerRepository) ListBoosters(ctx context.Context, accountID int64, since time.Time) ([]*entities.Booster, error) {
	var boosters []*entities.Booster
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.SelectContext(ctx, &boosters, r.q(listBoostersQuery), accountID, since.UTC())
	})
	if err != nil {
		return nil, r.storeErr("list boosters", err)
	}
	return boosters, nil
}

// DeleteBoostersExpiredBefore removes boosters whose window closed before cutoff.
func (r *LedgerRepository) DeleteBoostersExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	release, err := r.acquireWriter(ctx)
	if err != nil {
		return 0, r.storeErr("await writer", err)
	}
	defer release()

	var deleted int64
	err = r.pool.With(ctx, func(conn *pool.Conn) error {
		res, err := conn.ExecContext(ctx, r.q(`DELETE FROM boosters WHERE expires_at < ?`), cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, r.storeErr("delete expired boosters", err)
	}
	return deleted, nil
}

func (r *LedgerRepository) ListAccountIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.SelectContext(ctx, &ids, r.q(
			`SELECT account_id FROM wallets WHERE account_id > ? ORDER BY account_id LIMIT ?`), afterID, limit)
	})
	if err != nil {
		return nil, r.storeErr("list accounts", err)
	}
	return ids, nil
}

func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.storeErr("ping", r.pool.With(ctx, func(conn *pool.Conn) error {
		return conn.PingContext(ctx)
	}))
}

func (r *LedgerRepository) Close() error {
	return r.pool.Close()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
