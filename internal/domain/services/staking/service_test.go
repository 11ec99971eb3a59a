package staking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/booster"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/cache"
	"github.com/helgykoin/hkn_ledger/internal/testutil"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ledger   *ledger.Service
	boosters *booster.Service
	staking  *Service
	store    repositories.LedgerStore
	clock    *clock
}

var testCatalog = []entities.BoosterSpec{
	{Kind: "double_1h", Cost: dec("100"), Duration: time.Hour, Multiplier: dec("2")},
	{Kind: "speed_24h_1.5x", Cost: dec("100"), Duration: 24 * time.Hour, Multiplier: dec("1.5")},
}

func newFixture(t *testing.T, policy booster.Policy) *fixture {
	t.Helper()
	store, _ := testutil.NewStore(t)
	c := &clock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}

	ledgerSvc := ledger.NewService(store, cache.NopCache{}, ledger.Config{
		TokenName:     "HelgyKoin",
		TokenSymbol:   "HKN",
		Decimals:      8,
		InitialSupply: dec("1000000000"),
		InitialPrice:  dec("0.0001"),
		SellRate:      dec("0.00005"),
		StartupBonus:  dec("100"),
	}, logger.NewNop(),
		ledger.WithClock(c.Now),
		ledger.WithRetrier(retry.NewRetrier(retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, nil)),
	)
	require.NoError(t, ledgerSvc.Bootstrap(context.Background()))

	boosterSvc, err := booster.NewService(ledgerSvc, store, testCatalog, policy, nil)
	require.NoError(t, err)

	stakingSvc := NewService(ledgerSvc, store, boosterSvc, Config{
		BaseHourlyRate: dec("0.001"),
		MinAmount:      dec("10"),
		MaxAmount:      dec("1000000"),
	}, nil)

	return &fixture{ledger: ledgerSvc, boosters: boosterSvc, staking: stakingSvc, store: store, clock: c}
}

func (f *fixture) seed(t *testing.T, accountID int64, balance string) {
	t.Helper()
	err := f.ledger.Atomic(context.Background(), "seed", func(ctx context.Context, u *ledger.Unit) error {
		_, err := u.EnsureWallet(ctx, accountID, dec(balance))
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) assertReconciles(t *testing.T, accountID int64) {
	t.Helper()
	entries, err := f.store.SignedEntries(context.Background(), accountID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.SignedAmountFor(accountID))
	}
	assert.True(t, sum.Equal(f.balance(t, accountID)), "log %s balance %s", sum, f.balance(t, accountID))
}

func TestStake_RejectsOutOfBoundsAndUnfunded(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "50")

	_, err := f.staking.Stake(ctx, 1, dec("5"))
	assert.True(t, domainerrors.IsInvalidAmount(err))
	_, err = f.staking.Stake(ctx, 1, dec("1000001"))
	assert.True(t, domainerrors.IsInvalidAmount(err))
	_, err = f.staking.Stake(ctx, 1, dec("-10"))
	assert.True(t, domainerrors.IsInvalidAmount(err))
	_, err = f.staking.Stake(ctx, 1, dec("60"))
	assert.True(t, domainerrors.IsInsufficientFunds(err))
	_, err = f.staking.Stake(ctx, 2, dec("10"))
	assert.True(t, domainerrors.IsWalletNotFound(err))

	assert.True(t, f.balance(t, 1).Equal(dec("50")))
}

func TestStake_ClaimAfterElapsedHours(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "100")

	id, err := f.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)
	assert.True(t, f.balance(t, 1).IsZero())

	f.clock.Advance(10 * time.Hour)
	reward, err := f.staking.ClaimReward(ctx, id)
	require.NoError(t, err)
	assert.True(t, reward.Equal(dec("1")), reward.String())
	assert.True(t, f.balance(t, 1).Equal(dec("1")))

	// zero elapsed time accrues nothing
	again, err := f.staking.ClaimReward(ctx, id)
	require.NoError(t, err)
	assert.True(t, again.IsZero())
	assert.True(t, f.balance(t, 1).Equal(dec("1")))

	st, err := f.store.GetStake(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.IsActive())
	assert.True(t, st.Principal.Equal(dec("100")))
	assert.True(t, st.ClaimedTotal.Equal(dec("1")))
	f.assertReconciles(t, 1)
}

func TestUnstake_PaysPrincipalAndReward(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "500")

	id, err := f.staking.Stake(ctx, 1, dec("200"))
	require.NoError(t, err)
	f.clock.Advance(90 * time.Minute)

	res, err := f.staking.Unstake(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Principal.Equal(dec("200")))
	assert.True(t, res.Reward.Equal(dec("0.3")), res.Reward.String())
	assert.True(t, f.balance(t, 1).Equal(dec("500.3")))

	_, err = f.staking.Unstake(ctx, id)
	assert.True(t, errors.Is(err, domainerrors.ErrAlreadyWithdrawn))
	_, err = f.staking.ClaimReward(ctx, id)
	assert.True(t, errors.Is(err, domainerrors.ErrAlreadyWithdrawn))

	_, err = f.staking.ClaimReward(ctx, uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))
	_, err = f.staking.PendingReward(ctx, uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))

	st, err := f.store.GetStake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.StakeStatusWithdrawn, st.Status)
	require.NotNil(t, st.WithdrawnAt)
	f.assertReconciles(t, 1)
}

func TestClaim_BoosterStopsAtExpiry(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "200")

	_, err := f.boosters.Purchase(ctx, 1, "double_1h")
	require.NoError(t, err)
	id, err := f.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)

	// exactly at expiry: the whole hour ran under the booster
	f.clock.Advance(time.Hour)
	reward, err := f.staking.ClaimReward(ctx, id)
	require.NoError(t, err)
	assert.True(t, reward.Equal(dec("0.2")), reward.String())

	f.clock.Advance(time.Hour)
	reward, err = f.staking.ClaimReward(ctx, id)
	require.NoError(t, err)
	assert.True(t, reward.Equal(dec("0.1")), reward.String())
	f.assertReconciles(t, 1)
}

func TestClaim_IntegratesBoosterWindow(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "300")

	id, err := f.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.boosters.Purchase(ctx, 1, "double_1h")
	require.NoError(t, err)

	// 30m at x1, 60m at x2, 30m at x1
	f.clock.Advance(90 * time.Minute)
	view, err := f.staking.PendingReward(ctx, id)
	require.NoError(t, err)
	assert.True(t, view.PendingReward.Equal(dec("0.3")), view.PendingReward.String())
	assert.True(t, view.Multiplier.Equal(dec("1")))

	reward, err := f.staking.ClaimReward(ctx, id)
	require.NoError(t, err)
	assert.True(t, reward.Equal(dec("0.3")))
}

func TestClaimAll_AndActiveStakes(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "1000")

	a, err := f.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)
	b, err := f.staking.Stake(ctx, 1, dec("300"))
	require.NoError(t, err)
	c, err := f.staking.Stake(ctx, 1, dec("50"))
	require.NoError(t, err)
	_, err = f.staking.Unstake(ctx, c)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	var seen []uuid.UUID
	for view, err := range f.staking.ActiveStakesFor(ctx, 1) {
		require.NoError(t, err)
		seen = append(seen, view.Stake.ID)
		assert.True(t, view.PendingReward.IsPositive())
	}
	assert.Equal(t, []uuid.UUID{a, b}, seen)

	res, err := f.staking.ClaimAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	// (100 + 300) * 0.001 * 2h
	assert.True(t, res.Total.Equal(dec("0.8")), res.Total.String())
	assert.True(t, f.balance(t, 1).Equal(dec("600.8")))

	res, err = f.staking.ClaimAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	assert.True(t, res.Total.IsZero())

	res, err = f.staking.ClaimAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	f.assertReconciles(t, 1)
}

func TestStake_ConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t, booster.PolicyMultiply)
	ctx := context.Background()
	f.seed(t, 1, "100")

	id, err := f.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.staking.ClaimReward(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, f.balance(t, 1).Equal(dec("0.1")), f.balance(t, 1).String())
	f.assertReconciles(t, 1)
}
