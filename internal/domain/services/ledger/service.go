package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/internal/domain/repositories"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/cache"
	"github.com/helgykoin/hkn_ledger/pkg/idempotency"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/metrics"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
	"github.com/helgykoin/hkn_ledger/pkg/tracing"
)

// Sell policies
const (
	SellPolicyBurn    = "burn"
	SellPolicyReserve = "reserve"
)

// Config carries the token and wallet parameters of the ledger.
type Config struct {
	TokenName        string
	TokenSymbol      string
	Decimals         int32
	InitialSupply    decimal.Decimal
	InitialPrice     decimal.Decimal
	SellRate         decimal.Decimal
	SellPolicy       string
	ReserveAccountID int64
	StartupBonus     decimal.Decimal
	CacheTTL         time.Duration
	TokenTTL         time.Duration
	AdminIDs         []int64
}

// Service owns balances, the transaction log and token state. Other services
// move balances only through Atomic.
type Service struct {
	store   repositories.LedgerStore
	wallets *cache.Coherent
	token   *cache.Cell[entities.TokenState]
	retrier *retry.Retrier
	cfg     Config
	admins  map[int64]struct{}
	clock   func() time.Time
	logger  *logger.Logger
	tracer  trace.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRetrier replaces the default retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(s *Service) { s.retrier = r }
}

// NewService creates a new ledger service
func NewService(store repositories.LedgerStore, walletCache cache.WalletCache, cfg Config, log *logger.Logger, opts ...Option) *Service {
	if walletCache == nil {
		walletCache = cache.NopCache{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Decimals <= 0 {
		cfg.Decimals = 8
	}
	if cfg.SellPolicy == "" {
		cfg.SellPolicy = SellPolicyBurn
	}

	s := &Service{
		store:   store,
		wallets: cache.NewCoherent(walletCache),
		cfg:     cfg,
		admins:  make(map[int64]struct{}, len(cfg.AdminIDs)),
		clock:   time.Now,
		logger:  log,
		tracer:  tracing.GetTracer("hkn-ledger/ledger"),
	}
	for _, id := range cfg.AdminIDs {
		s.admins[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retrier == nil {
		s.retrier = retry.NewRetrier(retry.DefaultPolicy(), log.Zap())
	}
	s.token = cache.NewCell[entities.TokenState]("token_state", cfg.TokenTTL, s.clock)
	return s
}

// Now returns the service clock in UTC at the storage precision.
func (s *Service) Now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Decimals is the number of fractional digits amounts are kept at.
func (s *Service) Decimals() int32 {
	return s.cfg.Decimals
}

// Retrier is the bounded retry policy shared by ledger reads.
func (s *Service) Retrier() *retry.Retrier {
	return s.retrier
}

// Bootstrap seeds token state and, under the reserve policy, the reserve wallet.
func (s *Service) Bootstrap(ctx context.Context) error {
	err := s.retrier.Do(ctx, "seed_token_state", func(ctx context.Context) error {
		return s.store.EnsureTokenState(ctx, s.cfg.InitialSupply, s.cfg.InitialPrice)
	})
	if err != nil {
		return fmt.Errorf("seed token state: %w", err)
	}

	if s.cfg.SellPolicy == SellPolicyReserve {
		err := s.Atomic(ctx, "seed_reserve", func(ctx context.Context, u *Unit) error {
			_, err := u.EnsureWallet(ctx, s.cfg.ReserveAccountID, decimal.Zero)
			return err
		})
		if err != nil {
			return fmt.Errorf("seed reserve wallet: %w", err)
		}
	}
	return nil
}

// Atomic runs fn as one atomic unit under the retry policy. fn may run more
// than once and must keep its effects inside the unit. Caches of every
// touched account and of token state are invalidated before Atomic returns.
func (s *Service) Atomic(ctx context.Context, operation string, fn func(ctx context.Context, u *Unit) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+operation)
	defer span.End()
	start := time.Now()

	var key *string
	if k, ok := idempotency.FromContext(ctx); ok {
		key = &k
		span.SetAttributes(attribute.Bool("idempotent", true))
	}

	var committed []*entities.Transaction
	err := s.retrier.Do(ctx, operation, func(ctx context.Context) error {
		var unit *Unit
		err := s.store.RunAtomic(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
			unit = newUnit(tx, s.Now(), key)
			return fn(ctx, unit)
		})
		// a failed commit may still have been applied, so invalidate either way
		if unit != nil {
			s.invalidate(ctx, unit)
		}
		if err != nil {
			return err
		}
		committed = unit.Entries()
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordOperation(operation, domainerrors.GetErrorCode(err), elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if domainerrors.IsRetryable(err) || errors.Is(err, domainerrors.ErrMaxRetriesExceeded) {
			s.logger.Error("Ledger operation failed", "operation", operation, "error", err)
		}
		return err
	}

	metrics.RecordOperation(operation, "success", elapsed)
	for _, t := range committed {
		metrics.RecordTransaction(string(t.Kind), t.Amount)
	}
	span.SetAttributes(attribute.Int("entries", len(committed)))
	return nil
}

func (s *Service) invalidate(ctx context.Context, u *Unit) {
	if ids := u.touchedAccounts(); len(ids) > 0 {
		s.wallets.Invalidate(ctx, ids...)
	}
	if u.tokenChanged {
		s.token.Invalidate()
	}
}

// GetWallet returns the account's wallet, creating it with the startup bonus
// on first reference. With useCache the wallet may come from the cache.
func (s *Service) GetWallet(ctx context.Context, accountID int64, useCache bool) (*entities.Wallet, error) {
	if useCache {
		if w, ok := s.wallets.Get(ctx, accountID); ok {
			return w, nil
		}
	}

	snapshot := s.wallets.Snapshot(accountID)
	w, err := retry.Run(ctx, s.retrier, "get_wallet", func(ctx context.Context) (*entities.Wallet, error) {
		return s.store.GetWallet(ctx, accountID)
	})
	switch {
	case err == nil:
		s.wallets.PutIfUnchanged(ctx, accountID, w, s.cfg.CacheTTL, snapshot)
		return w, nil
	case errors.Is(err, repositories.ErrRecordNotFound):
		return s.createWallet(ctx, accountID)
	default:
		return nil, err
	}
}

func (s *Service) createWallet(ctx context.Context, accountID int64) (*entities.Wallet, error) {
	var w *entities.Wallet
	err := s.Atomic(ctx, "create_wallet", func(ctx context.Context, u *Unit) error {
		created, err := u.EnsureWallet(ctx, accountID, s.cfg.StartupBonus)
		if err != nil {
			return err
		}
		wallets, err := u.RequireWallets(ctx, accountID)
		if err != nil {
			return err
		}
		w = wallets[accountID]
		if created {
			s.logger.Info("Wallet created", "account_id", accountID, "bonus", s.cfg.StartupBonus.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := *w
	return &out, nil
}

// Transfer moves amount from sender to receiver. Under an idempotency key a
// repeated request returns the originally committed entry.
func (s *Service) Transfer(ctx context.Context, senderID, receiverID int64, amount decimal.Decimal) (*entities.Transaction, error) {
	if err := s.ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, domainerrors.InvalidAmountError("receiver_id", "cannot transfer to the same account")
	}
	want := &entities.Transaction{
		SenderID:   &senderID,
		ReceiverID: &receiverID,
		Amount:     amount,
		Kind:       entities.TransactionKindTransfer,
	}
	if original, err := s.replay(ctx, want); original != nil || err != nil {
		return original, err
	}

	var out *entities.Transaction
	err := s.Atomic(ctx, "transfer", func(ctx context.Context, u *Unit) error {
		if _, err := u.RequireWallets(ctx, senderID, receiverID); err != nil {
			return err
		}
		if err := u.Debit(ctx, senderID, amount); err != nil {
			return err
		}
		if err := u.Credit(ctx, receiverID, amount); err != nil {
			return err
		}
		out = &entities.Transaction{
			SenderID:   &senderID,
			ReceiverID: &receiverID,
			Amount:     amount,
			Kind:       entities.TransactionKindTransfer,
		}
		return u.Record(ctx, out)
	})
	if errors.Is(err, domainerrors.ErrDuplicateRequest) {
		return s.replayConflict(ctx, err, want)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transfer completed",
		"transaction_id", out.ID,
		"sender_id", senderID,
		"receiver_id", receiverID,
		"amount", amount.String())
	return out, nil
}

// Mint credits new supply to an existing wallet. Only admins may mint.
func (s *Service) Mint(ctx context.Context, actorID, accountID int64, amount decimal.Decimal) (*entities.Transaction, error) {
	if !s.IsAdmin(actorID) {
		return nil, domainerrors.PrivilegeDeniedError(actorID, "mint")
	}
	if err := s.ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	want := &entities.Transaction{
		ReceiverID: &accountID,
		Amount:     amount,
		Kind:       entities.TransactionKindMint,
	}
	if original, err := s.replay(ctx, want); original != nil || err != nil {
		return original, err
	}

	var out *entities.Transaction
	err := s.Atomic(ctx, "mint", func(ctx context.Context, u *Unit) error {
		if _, err := u.RequireWallets(ctx, accountID); err != nil {
			return err
		}
		if err := u.Credit(ctx, accountID, amount); err != nil {
			return err
		}
		st, err := u.LockTokenState(ctx)
		if err != nil {
			return err
		}
		st.TotalSupply = st.TotalSupply.Add(amount)
		if err := u.UpdateTokenState(ctx, st); err != nil {
			return err
		}
		out = &entities.Transaction{
			ReceiverID: &accountID,
			Amount:     amount,
			Kind:       entities.TransactionKindMint,
			Memo:       fmt.Sprintf("minted by %d", actorID),
		}
		return u.Record(ctx, out)
	})
	if errors.Is(err, domainerrors.ErrDuplicateRequest) {
		return s.replayConflict(ctx, err, want)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Tokens minted", "actor_id", actorID, "account_id", accountID, "amount", amount.String())
	return out, nil
}

// SetPrice sets the unit price. Only admins may set it.
func (s *Service) SetPrice(ctx context.Context, actorID int64, price decimal.Decimal) (*entities.TokenState, error) {
	if !s.IsAdmin(actorID) {
		return nil, domainerrors.PrivilegeDeniedError(actorID, "set_price")
	}
	if !price.IsPositive() {
		return nil, domainerrors.InvalidAmountError("price", "must be positive")
	}

	var out entities.TokenState
	err := s.Atomic(ctx, "set_price", func(ctx context.Context, u *Unit) error {
		st, err := u.LockTokenState(ctx)
		if err != nil {
			return err
		}
		st.Price = price
		if err := u.UpdateTokenState(ctx, st); err != nil {
			return err
		}
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Token price set", "actor_id", actorID, "price", price.String())
	return &out, nil
}

// SellToSystem debits amount from the account and reports its value at the
// sell rate. Sold tokens are burned or moved to the reserve wallet depending
// on the sell policy.
func (s *Service) SellToSystem(ctx context.Context, accountID int64, amount decimal.Decimal) (*entities.SellResult, error) {
	if err := s.ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	reserve := s.cfg.SellPolicy == SellPolicyReserve
	if reserve && accountID == s.cfg.ReserveAccountID {
		return nil, domainerrors.InvalidAmountError("account_id", "reserve account cannot sell to itself")
	}

	credited := amount.Mul(s.cfg.SellRate).Truncate(s.cfg.Decimals)
	var out *entities.Transaction
	err := s.Atomic(ctx, "sell", func(ctx context.Context, u *Unit) error {
		ids := []int64{accountID}
		if reserve {
			ids = append(ids, s.cfg.ReserveAccountID)
		}
		if _, err := u.RequireWallets(ctx, ids...); err != nil {
			return err
		}
		if err := u.Debit(ctx, accountID, amount); err != nil {
			return err
		}

		out = &entities.Transaction{
			SenderID: &accountID,
			Amount:   amount,
			Kind:     entities.TransactionKindSell,
			Memo:     fmt.Sprintf("value %s", credited.String()),
		}
		if reserve {
			reserveID := s.cfg.ReserveAccountID
			if err := u.Credit(ctx, reserveID, amount); err != nil {
				return err
			}
			out.ReceiverID = &reserveID
		} else {
			st, err := u.LockTokenState(ctx)
			if err != nil {
				return err
			}
			if st.TotalSupply.LessThan(amount) {
				return domainerrors.InvalidAmountError("amount", "exceeds total supply")
			}
			st.TotalSupply = st.TotalSupply.Sub(amount)
			if err := u.UpdateTokenState(ctx, st); err != nil {
				return err
			}
		}
		return u.Record(ctx, out)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Tokens sold to system",
		"account_id", accountID,
		"amount", amount.String(),
		"credited_value", credited.String(),
		"policy", s.cfg.SellPolicy)

	return &entities.SellResult{
		Transaction:   out,
		Amount:        amount,
		CreditedValue: credited,
		Policy:        s.cfg.SellPolicy,
	}, nil
}

// TokenInfo returns token metadata with the current supply and price.
func (s *Service) TokenInfo(ctx context.Context) (*entities.TokenInfo, error) {
	st, err := s.tokenState(ctx)
	if err != nil {
		return nil, err
	}
	return &entities.TokenInfo{
		Name:        s.cfg.TokenName,
		Symbol:      s.cfg.TokenSymbol,
		Decimals:    s.cfg.Decimals,
		TotalSupply: st.TotalSupply,
		Price:       st.Price,
		SellRate:    s.cfg.SellRate,
		MarketCap:   st.TotalSupply.Mul(st.Price),
	}, nil
}

// MarketCap is total supply times price.
func (s *Service) MarketCap(ctx context.Context) (decimal.Decimal, error) {
	st, err := s.tokenState(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.TotalSupply.Mul(st.Price), nil
}

func (s *Service) tokenState(ctx context.Context) (entities.TokenState, error) {
	if st, ok := s.token.Get(); ok {
		return st, nil
	}
	version := s.token.Version()
	st, err := retry.Run(ctx, s.retrier, "get_token_state", func(ctx context.Context) (*entities.TokenState, error) {
		return s.store.GetTokenState(ctx)
	})
	if err != nil {
		return entities.TokenState{}, err
	}
	s.token.SetIfUnchanged(*st, version)
	return *st, nil
}

// IsAdmin reports whether the account may run privileged operations.
func (s *Service) IsAdmin(accountID int64) bool {
	_, ok := s.admins[accountID]
	return ok
}

// ValidateAmount rejects non-positive amounts and amounts finer than the
// token's decimals.
func (s *Service) ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domainerrors.InvalidAmountError(field, "must be positive")
	}
	if !amount.Equal(amount.Truncate(s.cfg.Decimals)) {
		return domainerrors.InvalidAmountError(field, fmt.Sprintf("at most %d decimal places", s.cfg.Decimals))
	}
	return nil
}

// replay returns the entry already committed under the context's idempotency
// key. A key already used for a different request, whatever differs, is a
// DuplicateRequest.
func (s *Service) replay(ctx context.Context, want *entities.Transaction) (*entities.Transaction, error) {
	key, ok := idempotency.FromContext(ctx)
	if !ok {
		return nil, nil
	}
	t, err := retry.Run(ctx, s.retrier, "find_idempotency_key", func(ctx context.Context) (*entities.Transaction, error) {
		return s.store.FindTransactionByIdempotencyKey(ctx, key)
	})
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !sameRequest(t, want) {
		s.logger.Warn("Idempotency key reused with a different request",
			"idempotency_key", key,
			"transaction_id", t.ID,
			"kind", want.Kind)
		return nil, domainerrors.DuplicateRequestError(key)
	}
	s.logger.Info("Replaying idempotent request", "idempotency_key", key, "transaction_id", t.ID)
	return t, nil
}

func sameRequest(t, want *entities.Transaction) bool {
	return t.Kind == want.Kind &&
		sameAccount(t.SenderID, want.SenderID) &&
		sameAccount(t.ReceiverID, want.ReceiverID) &&
		t.Amount.Equal(want.Amount)
}

func sameAccount(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// replayConflict resolves a unique-key conflict lost to a concurrent request.
func (s *Service) replayConflict(ctx context.Context, conflict error, want *entities.Transaction) (*entities.Transaction, error) {
	t, err := s.replay(ctx, want)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, conflict
	}
	return t, nil
}
