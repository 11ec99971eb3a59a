package booster

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/cache"
	"github.com/helgykoin/hkn_ledger/internal/testutil"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var catalog = []entities.BoosterSpec{
	{Kind: "speed_7d_2x", Cost: dec("500"), Duration: 168 * time.Hour, Multiplier: dec("2")},
	{Kind: "speed_24h_1.5x", Cost: dec("100"), Duration: 24 * time.Hour, Multiplier: dec("1.5")},
}

func newTestService(t *testing.T, policy Policy, now *time.Time) (*Service, repositories.LedgerStore, *ledger.Service) {
	t.Helper()
	store, _ := testutil.NewStore(t)
	ledgerSvc := ledger.NewService(store, cache.NopCache{}, ledger.Config{
		Decimals:      8,
		InitialSupply: dec("1000"),
		InitialPrice:  dec("1"),
		StartupBonus:  dec("100"),
	}, logger.NewNop(), ledger.WithClock(func() time.Time { return *now }))
	require.NoError(t, ledgerSvc.Bootstrap(context.Background()))

	svc, err := NewService(ledgerSvc, store, catalog, policy, nil)
	require.NoError(t, err)
	return svc, store, ledgerSvc
}

func TestPolicy_Combine(t *testing.T) {
	ms := []decimal.Decimal{dec("1.5"), dec("2")}
	assert.True(t, PolicyMultiply.Combine(ms).Equal(dec("3")))
	assert.True(t, PolicyMax.Combine(ms).Equal(dec("2")))
	assert.True(t, PolicyMultiply.Combine(nil).Equal(dec("1")))
	assert.True(t, PolicyMax.Combine(nil).Equal(dec("1")))
	assert.Error(t, Policy("sum").Validate())
}

func TestNewService_ValidatesCatalog(t *testing.T) {
	_, err := NewService(nil, nil, catalog, Policy("sum"), nil)
	assert.Error(t, err)

	bad := []entities.BoosterSpec{{Kind: "dud", Cost: dec("1"), Duration: time.Hour, Multiplier: dec("1")}}
	_, err = NewService(nil, nil, bad, PolicyMultiply, nil)
	assert.Error(t, err)

	dup := []entities.BoosterSpec{catalog[0], catalog[0]}
	_, err = NewService(nil, nil, dup, PolicyMultiply, nil)
	assert.Error(t, err)
}

func TestCatalog_SortedByKind(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, PolicyMultiply, &now)

	kinds := []string{}
	for _, spec := range svc.Catalog() {
		kinds = append(kinds, spec.Kind)
	}
	assert.Equal(t, []string{"speed_24h_1.5x", "speed_7d_2x"}, kinds)
}

func TestPurchase(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, store, ledgerSvc := newTestService(t, PolicyMultiply, &now)
	ctx := context.Background()

	_, err := ledgerSvc.GetWallet(ctx, 1, false)
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, 1, "warp_drive")
	assert.ErrorIs(t, err, domainerrors.ErrUnknownBooster)

	_, err = svc.Purchase(ctx, 1, "speed_7d_2x")
	assert.True(t, domainerrors.IsInsufficientFunds(err))

	id, err := svc.Purchase(ctx, 1, "speed_24h_1.5x")
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, [16]byte(id))

	w, err := store.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())

	entries, err := store.SignedEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entities.TransactionKindBooster, entries[1].Kind)

	m, err := svc.ActiveMultiplierFor(ctx, 1, now)
	require.NoError(t, err)
	assert.True(t, m.Equal(dec("1.5")))

	m, err = svc.ActiveMultiplierFor(ctx, 1, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, m.Equal(dec("1")))

	_, err = svc.Purchase(ctx, 404, "speed_24h_1.5x")
	assert.True(t, domainerrors.IsWalletNotFound(err))
}

func TestActiveMultiplierFor_CombinesStackedBoosters(t *testing.T) {
	for _, tc := range []struct {
		policy Policy
		want   string
	}{
		{PolicyMultiply, "2.25"},
		{PolicyMax, "1.5"},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			svc, _, ledgerSvc := newTestService(t, tc.policy, &now)
			ctx := context.Background()

			err := ledgerSvc.Atomic(ctx, "seed", func(ctx context.Context, u *ledger.Unit) error {
				_, err := u.EnsureWallet(ctx, 1, dec("200"))
				return err
			})
			require.NoError(t, err)

			_, err = svc.Purchase(ctx, 1, "speed_24h_1.5x")
			require.NoError(t, err)
			now = now.Add(time.Hour)
			_, err = svc.Purchase(ctx, 1, "speed_24h_1.5x")
			require.NoError(t, err)

			m, err := svc.ActiveMultiplierFor(ctx, 1, now)
			require.NoError(t, err)
			assert.True(t, m.Equal(dec(tc.want)), m.String())

			// only the second booster is left an hour after the first expires
			active, err := svc.ActiveBoosters(ctx, 1, now.Add(23*time.Hour))
			require.NoError(t, err)
			assert.Len(t, active, 1)
		})
	}
}
