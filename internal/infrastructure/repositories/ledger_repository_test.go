package repositories_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	domainrepos "github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seedWallet(t *testing.T, store domainrepos.LedgerStore, id int64, balance string) {
	t.Helper()
	err := store.RunAtomic(context.Background(), func(ctx context.Context, tx domainrepos.LedgerTx) error {
		created, err := tx.InsertWallet(ctx, &entities.Wallet{AccountID: id, Balance: dec(balance), CreatedAt: t0, UpdatedAt: t0})
		if err != nil {
			return err
		}
		if !created {
			return errors.New("wallet already existed")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerRepository_WalletRoundTrip(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()

	_, err := store.GetWallet(ctx, 1)
	assert.True(t, errors.Is(err, domainrepos.ErrRecordNotFound))

	seedWallet(t, store, 1, "100.12345678")

	w, err := store.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("100.12345678")), w.Balance.String())
	assert.True(t, w.CreatedAt.Equal(t0))

	// a second insert is a no-op
	err = store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		created, err := tx.InsertWallet(ctx, &entities.Wallet{AccountID: 1, Balance: dec("5"), CreatedAt: t0, UpdatedAt: t0})
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	})
	require.NoError(t, err)

	w, err = store.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("100.12345678")))
}

func TestLedgerRepository_RunAtomicRollsBack(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()
	seedWallet(t, store, 1, "10")

	boom := errors.New("boom")
	err := store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		if err := tx.SetBalance(ctx, 1, dec("3"), t0); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &entities.Transaction{
			SenderID: ptr(int64(1)), Amount: dec("7"), Kind: entities.TransactionKindSell, CreatedAt: t0,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := store.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("10")))

	entries, err := store.SignedEntries(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedgerRepository_DomainErrorsPassThrough(t *testing.T) {
	store, _ := testutil.NewStore(t)

	err := store.RunAtomic(context.Background(), func(ctx context.Context, tx domainrepos.LedgerTx) error {
		return domainerrors.InsufficientFundsError(1, dec("1"), dec("2"))
	})
	assert.True(t, domainerrors.IsInsufficientFunds(err))
	assert.False(t, domainerrors.IsRetryable(err))
}

func TestLedgerRepository_LockWalletsSkipsMissing(t *testing.T) {
	store, _ := testutil.NewStore(t)
	seedWallet(t, store, 5, "1")
	seedWallet(t, store, 2, "2")

	err := store.RunAtomic(context.Background(), func(ctx context.Context, tx domainrepos.LedgerTx) error {
		wallets, err := tx.LockWallets(ctx, 5, 9, 2, 5)
		require.NoError(t, err)
		assert.Len(t, wallets, 2)
		assert.True(t, wallets[2].Balance.Equal(dec("2")))
		assert.Nil(t, wallets[9])
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerRepository_SetBalanceRefusesNegative(t *testing.T) {
	store, _ := testutil.NewStore(t)
	seedWallet(t, store, 1, "1")

	err := store.RunAtomic(context.Background(), func(ctx context.Context, tx domainrepos.LedgerTx) error {
		return tx.SetBalance(ctx, 1, dec("-1"), t0)
	})
	require.Error(t, err)

	err = store.RunAtomic(context.Background(), func(ctx context.Context, tx domainrepos.LedgerTx) error {
		return tx.SetBalance(ctx, 42, dec("1"), t0)
	})
	assert.True(t, errors.Is(err, domainrepos.ErrRecordNotFound))
}

func TestLedgerRepository_IdempotencyKeyIsUnique(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()
	seedWallet(t, store, 1, "0")

	appendMint := func() error {
		return store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
			return tx.AppendTransaction(ctx, &entities.Transaction{
				ReceiverID:     ptr(int64(1)),
				Amount:         dec("5"),
				Kind:           entities.TransactionKindMint,
				IdempotencyKey: ptr("mint-key-0001"),
				CreatedAt:      t0,
			})
		})
	}

	require.NoError(t, appendMint())
	err := appendMint()
	assert.True(t, errors.Is(err, domainerrors.ErrDuplicateRequest))

	txn, err := store.FindTransactionByIdempotencyKey(ctx, "mint-key-0001")
	require.NoError(t, err)
	assert.Equal(t, entities.TransactionKindMint, txn.Kind)
	require.NotNil(t, txn.IdempotencyKey)
	assert.Equal(t, "mint-key-0001", *txn.IdempotencyKey)
	assert.Nil(t, txn.SenderID)

	_, err = store.FindTransactionByIdempotencyKey(ctx, "missing-key")
	assert.True(t, errors.Is(err, domainrepos.ErrRecordNotFound))
}

func TestLedgerRepository_ListTransactionsKeyset(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()
	seedWallet(t, store, 1, "0")
	seedWallet(t, store, 2, "0")

	// two entries share a timestamp so the id breaks the tie
	times := []time.Time{t0, t0.Add(time.Second), t0.Add(time.Second), t0.Add(90 * time.Minute), t0.Add(2 * time.Hour)}
	err := store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		for i, at := range times {
			err := tx.AppendTransaction(ctx, &entities.Transaction{
				SenderID:   ptr(int64(2)),
				ReceiverID: ptr(int64(1)),
				Amount:     decimal.NewFromInt(int64(i + 1)),
				Kind:       entities.TransactionKindTransfer,
				CreatedAt:  at,
			})
			if err != nil {
				return err
			}
		}
		// unrelated entry
		return tx.AppendTransaction(ctx, &entities.Transaction{
			ReceiverID: ptr(int64(3)), Amount: dec("1"), Kind: entities.TransactionKindMint, CreatedAt: t0,
		})
	})
	require.NoError(t, err)

	var got []int64
	var cursor *entities.HistoryCursor
	for {
		page, err := store.ListTransactions(ctx, 1, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, txn := range page {
			got = append(got, txn.Amount.IntPart())
		}
		last := page[len(page)-1]
		cursor = &entities.HistoryCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, got)

	entries, err := store.SignedEntries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestLedgerRepository_TokenState(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()

	_, err := store.GetTokenState(ctx)
	assert.True(t, errors.Is(err, domainrepos.ErrRecordNotFound))

	require.NoError(t, store.EnsureTokenState(ctx, dec("1000"), dec("0.0001")))
	// seeding again keeps the existing row
	require.NoError(t, store.EnsureTokenState(ctx, dec("5"), dec("9")))

	err = store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		st, err := tx.LockTokenState(ctx)
		if err != nil {
			return err
		}
		assert.True(t, st.TotalSupply.Equal(dec("1000")))
		st.TotalSupply = st.TotalSupply.Add(dec("0.5"))
		st.UpdatedAt = t0
		return tx.UpdateTokenState(ctx, st)
	})
	require.NoError(t, err)

	st, err := store.GetTokenState(ctx)
	require.NoError(t, err)
	assert.True(t, st.TotalSupply.Equal(dec("1000.5")))
	assert.True(t, st.Price.Equal(dec("0.0001")))
}

func TestLedgerRepository_Stakes(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()
	seedWallet(t, store, 1, "0")

	var ids []uuid.UUID
	err := store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		for i := 0; i < 3; i++ {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			ids = append(ids, id)
			if err := tx.InsertStake(ctx, &entities.Stake{
				ID:            id,
				AccountID:     1,
				Principal:     dec("10"),
				StartedAt:     t0,
				LastClaimedAt: t0,
				ClaimedTotal:  decimal.Zero,
				Status:        entities.StakeStatusActive,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		s, err := tx.LockStake(ctx, ids[1])
		if err != nil {
			return err
		}
		at := t0.Add(time.Hour)
		s.Status = entities.StakeStatusWithdrawn
		s.WithdrawnAt = &at
		s.ClaimedTotal = dec("0.01")
		return tx.UpdateStake(ctx, s)
	})
	require.NoError(t, err)

	got, err := store.GetStake(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, entities.StakeStatusWithdrawn, got.Status)
	require.NotNil(t, got.WithdrawnAt)
	assert.True(t, got.WithdrawnAt.Equal(t0.Add(time.Hour)))

	active, err := store.ListStakes(ctx, 1, entities.StakeStatusActive, uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[0], active[0].ID)
	assert.Equal(t, ids[2], active[1].ID)

	page, err := store.ListStakes(ctx, 1, entities.StakeStatusActive, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)

	err = store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		locked, err := tx.LockActiveStakes(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, locked, 2)
		return nil
	})
	require.NoError(t, err)

	_, err = store.GetStake(ctx, uuid.New())
	assert.True(t, errors.Is(err, domainrepos.ErrRecordNotFound))
}

func TestLedgerRepository_Boosters(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()
	seedWallet(t, store, 1, "0")

	err := store.RunAtomic(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		for i, d := range []time.Duration{time.Hour, 24 * time.Hour} {
			err := tx.InsertBooster(ctx, &entities.Booster{
				ID:          uuid.New(),
				AccountID:   1,
				Kind:        "speed",
				Multiplier:  decimal.NewFromInt(int64(i + 2)),
				ActivatedAt: t0,
				ExpiresAt:   t0.Add(d),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	boosters, err := store.ListBoosters(ctx, 1, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, boosters, 1)
	assert.True(t, boosters[0].Multiplier.Equal(dec("3")))

	deleted, err := store.DeleteBoostersExpiredBefore(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	boosters, err = store.ListBoosters(ctx, 1, t0)
	require.NoError(t, err)
	assert.Len(t, boosters, 1)
}

func TestLedgerRepository_ListAccountIDs(t *testing.T) {
	store, _ := testutil.NewStore(t)
	for _, id := range []int64{30, 10, 20} {
		seedWallet(t, store, id, "0")
	}

	ids, err := store.ListAccountIDs(context.Background(), math.MinInt64, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, ids)

	ids, err = store.ListAccountIDs(context.Background(), 20, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, ids)

	require.NoError(t, store.Ping(context.Background()))
}

func TestLedgerRepository_ReleasesConnectionOnPanic(t *testing.T) {
	store, p := testutil.NewStore(t, testutil.StoreOptions{PoolSize: 1})

	assert.Panics(t, func() {
		_ = store.RunAtomic(context.Background(), func(ctx context.Context, tx domainrepos.LedgerTx) error {
			panic("unit blew up")
		})
	})
	assert.Equal(t, 0, p.Stats().InUse)

	// the writer slot and the connection are both free again
	seedWallet(t, store, 1, "1")
}
