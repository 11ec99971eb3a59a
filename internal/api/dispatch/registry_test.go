package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/testutil/stack"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decode(t *testing.T, raw string) Request {
	t.Helper()
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	return req
}

func TestRequest_UnmarshalKeepsPayload(t *testing.T) {
	req := decode(t, `{"kind":"transfer","to":2,"amount":"1.5"}`)
	assert.Equal(t, KindTransfer, req.Kind)

	var p TransferRequest
	require.NoError(t, json.Unmarshal(req.Payload, &p))
	assert.Equal(t, int64(2), p.To)
	assert.True(t, p.Amount.Equal(dec("1.5")))
}

func TestRegistry_RegisterTwicePanics(t *testing.T) {
	r := NewRegistry()
	h := Typed(func(context.Context, int64, NoPayload) (any, error) { return nil, nil })
	r.Register("ping", h)
	assert.Panics(t, func() { r.Register("ping", h) })
	assert.Equal(t, []Kind{"ping"}, r.Kinds())
}

func TestDispatch_RejectsBadRequests(t *testing.T) {
	reg := New(stack.New(t).Ledger, nil, nil)
	ctx := context.Background()

	_, err := reg.Dispatch(ctx, 1, decode(t, `{"kind":"teleport"}`))
	assert.True(t, domainerrors.IsInvalidInput(err))

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"transfer","to":"two","amount":"1"}`))
	assert.True(t, domainerrors.IsInvalidInput(err))

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"transfer","amount":"1"}`))
	assert.True(t, domainerrors.IsInvalidInput(err), "missing receiver")

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"history","limit":1000}`))
	assert.True(t, domainerrors.IsInvalidInput(err))

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"transfer","to":2,"amount":"-1"}`))
	assert.True(t, domainerrors.IsInvalidAmount(err))
}

func TestDispatch_MalformedAmountIsInvalidAmount(t *testing.T) {
	reg := New(stack.New(t).Ledger, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
	}{
		{"letters", `{"kind":"transfer","to":2,"amount":"abc"}`},
		{"boolean", `{"kind":"transfer","to":2,"amount":true}`},
		{"object", `{"kind":"sell","amount":{"value":1}}`},
		{"price", `{"kind":"set_price","price":"1,5"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Dispatch(ctx, 1, decode(t, tt.raw))
			assert.True(t, domainerrors.IsInvalidAmount(err), "got %v", err)

			var de *domainerrors.DomainError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, domainerrors.CodeInvalidAmount, de.Code)
		})
	}
}

func TestDispatch_LedgerOperations(t *testing.T) {
	s := stack.New(t)
	reg := New(s.Ledger, s.Staking, s.Boosters)
	ctx := context.Background()

	out, err := reg.Dispatch(ctx, 1, decode(t, `{"kind":"balance"}`))
	require.NoError(t, err)
	assert.True(t, out.(*entities.Wallet).Balance.Equal(dec("100")))
	_, err = reg.Dispatch(ctx, 2, decode(t, `{"kind":"balance"}`))
	require.NoError(t, err)

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"transfer","to":2,"amount":"25"}`))
	require.NoError(t, err)
	tx := out.(*entities.Transaction)
	assert.Equal(t, entities.TransactionKindTransfer, tx.Kind)

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"mint","account_id":1,"amount":"5"}`))
	assert.True(t, domainerrors.IsPrivilegeDenied(err))

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"history"}`))
	require.NoError(t, err)
	assert.Len(t, out.([]*entities.Transaction), 2)

	out, err = reg.Dispatch(ctx, 3, decode(t, `{"kind":"history"}`))
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out.([]*entities.Transaction))

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"market_cap"}`))
	require.NoError(t, err)
	assert.True(t, out.(*MarketCapResponse).MarketCap.Equal(dec("100000")))
}

func TestDispatch_StakingAndBoosters(t *testing.T) {
	s := stack.New(t)
	reg := New(s.Ledger, s.Staking, s.Boosters)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := s.Ledger.GetWallet(ctx, id, false)
		require.NoError(t, err)
	}

	out, err := reg.Dispatch(ctx, 1, decode(t, `{"kind":"stake","amount":"50"}`))
	require.NoError(t, err)
	stakeID := out.(*StakeResponse).StakeID

	s.Clock.Advance(2 * time.Hour)

	// another account cannot see or touch the stake
	foreign := decode(t, `{"kind":"claim","stake_id":"`+stakeID.String()+`"}`)
	_, err = reg.Dispatch(ctx, 2, foreign)
	assert.True(t, domainerrors.IsNotFound(err))

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"stakes"}`))
	require.NoError(t, err)
	require.Len(t, out.([]*entities.StakeView), 1)

	out, err = reg.Dispatch(ctx, 1, foreign)
	require.NoError(t, err)
	assert.True(t, out.(*ClaimResponse).Reward.Equal(dec("0.1")))

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"unstake","stake_id":"`+uuid.NewString()+`"}`))
	assert.True(t, domainerrors.IsNotFound(err))

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"unstake","stake_id":"`+stakeID.String()+`"}`))
	require.NoError(t, err)
	assert.True(t, out.(*entities.UnstakeResult).Principal.Equal(dec("50")))

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"booster_catalog"}`))
	require.NoError(t, err)
	assert.Len(t, out.([]entities.BoosterSpec), 2)

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"buy_booster","booster":"nitro"}`))
	assert.ErrorIs(t, err, domainerrors.ErrUnknownBooster)

	_, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"buy_booster","booster":"speed_24h_1.5x"}`))
	require.NoError(t, err)

	out, err = reg.Dispatch(ctx, 1, decode(t, `{"kind":"active_multiplier"}`))
	require.NoError(t, err)
	assert.True(t, out.(*MultiplierResponse).Multiplier.Equal(dec("1.5")))
}
