package staking

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/booster"
)

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Accrue integrates principal × hourlyRate × multiplier over [from, to).
// The interval is split at every booster activation and expiry inside it so
// each piece is weighted by the boosters actually in force during it. The
// result is truncated to decimals places.
func Accrue(principal, hourlyRate decimal.Decimal, from, to time.Time, boosters []*entities.Booster, policy booster.Policy, decimals int32) decimal.Decimal {
	if !to.After(from) || !principal.IsPositive() {
		return decimal.Zero
	}

	cuts := []time.Time{from, to}
	for _, b := range boosters {
		for _, edge := range []time.Time{b.ActivatedAt, b.ExpiresAt} {
			if edge.After(from) && edge.Before(to) {
				cuts = append(cuts, edge)
			}
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })

	// Σ multiplier × nanoseconds, divided once at the end
	weighted := decimal.Zero
	for i := 0; i+1 < len(cuts); i++ {
		start, end := cuts[i], cuts[i+1]
		if !end.After(start) {
			continue
		}
		m := policy.MultiplierAt(boosters, start)
		weighted = weighted.Add(m.Mul(decimal.NewFromInt(int64(end.Sub(start)))))
	}

	return principal.Mul(hourlyRate).Mul(weighted).Div(nanosPerHour).Truncate(decimals)
}
