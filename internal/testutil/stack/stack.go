// Package stack wires ledger, staking and booster services over a test store
// for adapter-level tests.
package stack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/booster"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/staking"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/cache"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/repositories"
	"github.com/helgykoin/hkn_ledger/internal/testutil"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

// Admin is the only account allowed to mint and set the price.
const Admin int64 = 6328016694

// Clock is a manually advanced clock
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Services is a fully wired service set
type Services struct {
	Ledger   *ledger.Service
	Staking  *staking.Service
	Boosters *booster.Service
	Store    *repositories.LedgerRepository
	Clock    *Clock
}

// New builds the services with the production defaults: 100 HKN startup
// bonus, 0.001 hourly rate and the two stock boosters.
func New(t testing.TB) *Services {
	t.Helper()
	store, _ := testutil.NewStore(t)
	clock := &Clock{t: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}

	ledgerSvc := ledger.NewService(store, cache.NopCache{}, ledger.Config{
		TokenName:     "HelgyKoin",
		TokenSymbol:   "HKN",
		Decimals:      8,
		InitialSupply: decimal.RequireFromString("1000000000"),
		InitialPrice:  decimal.RequireFromString("0.0001"),
		SellRate:      decimal.RequireFromString("0.00005"),
		SellPolicy:    ledger.SellPolicyBurn,
		StartupBonus:  decimal.RequireFromString("100"),
		AdminIDs:      []int64{Admin},
	}, logger.NewNop(),
		ledger.WithClock(clock.Now),
		ledger.WithRetrier(retry.NewRetrier(retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, nil)),
	)
	require.NoError(t, ledgerSvc.Bootstrap(context.Background()))

	boosterSvc, err := booster.NewService(ledgerSvc, store, []entities.BoosterSpec{
		{Kind: "speed_24h_1.5x", Cost: decimal.NewFromInt(100), Duration: 24 * time.Hour, Multiplier: decimal.RequireFromString("1.5")},
		{Kind: "speed_7d_2x", Cost: decimal.NewFromInt(500), Duration: 168 * time.Hour, Multiplier: decimal.NewFromInt(2)},
	}, booster.PolicyMultiply, nil)
	require.NoError(t, err)

	stakingSvc := staking.NewService(ledgerSvc, store, boosterSvc, staking.Config{
		BaseHourlyRate: decimal.RequireFromString("0.001"),
		MinAmount:      decimal.NewFromInt(10),
		MaxAmount:      decimal.NewFromInt(1000000),
	}, nil)

	return &Services{Ledger: ledgerSvc, Staking: stakingSvc, Boosters: boosterSvc, Store: store, Clock: clock}
}
