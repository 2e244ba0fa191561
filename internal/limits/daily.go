// Package limits implements the rolling 24-hour spending cap: a limit
// value whose changes only take effect after a security delay, and a
// daily-spent window debited by value-moving operations.
package limits

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// spendWindow is the length of one daily-spent accounting window.
const spendWindow = 24 * time.Hour

// ErrLimitTooLarge is returned when a requested limit does not fit in
// 128 bits.
var ErrLimitTooLarge = errors.New("limit exceeds 128 bits")

// Tracker owns the per-wallet limit and daily-spent state.
type Tracker struct {
	store          storage.Store
	env            chain.Env
	events         *events.Log
	securityPeriod time.Duration
	logger         *zap.Logger
}

// NewTracker creates a limit tracker. securityPeriod is the delay before
// a limit change takes effect.
func NewTracker(store storage.Store, env chain.Env, eventLog *events.Log, securityPeriod time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:          store,
		env:            env,
		events:         eventLog,
		securityPeriod: securityPeriod,
		logger:         logger,
	}
}

// ChangeLimit schedules a new limit. The change is deferred by the
// security period so compromised signing keys cannot instantly raise the
// cap and drain the wallet; any previously pending change is overwritten.
func (t *Tracker) ChangeLimit(ctx context.Context, walletAddr common.Address, target *big.Int) error {
	if target.Sign() < 0 || target.Cmp(wallet.LimitDisabled) > 0 {
		return ErrLimitTooLarge
	}
	now := t.env.Now()
	current, err := t.CurrentLimit(ctx, walletAddr)
	if err != nil {
		return err
	}
	changeAfter := now + int64(t.securityPeriod/time.Second)
	limit := wallet.Limit{
		Current:     current,
		Pending:     new(big.Int).Set(target),
		ChangeAfter: changeAfter,
	}
	if err := t.store.SetLimit(ctx, walletAddr, limit); err != nil {
		return fmt.Errorf("set limit: %w", err)
	}
	t.events.Emit(events.TypeLimitChanged, walletAddr, events.LimitChanged{
		NewLimit:    (*hexutil.Big)(new(big.Int).Set(target)),
		ChangeAfter: changeAfter,
	})
	t.logger.Info("limit change scheduled",
		zap.String("wallet", walletAddr.Hex()),
		zap.String("new_limit", target.String()),
		zap.Int64("change_after", changeAfter),
	)
	return nil
}

// DisableLimit schedules the limit to the disabled sentinel, removing the
// daily cap after the security period.
func (t *Tracker) DisableLimit(ctx context.Context, walletAddr common.Address) error {
	return t.ChangeLimit(ctx, walletAddr, wallet.LimitDisabled)
}

// CurrentLimit returns the limit in force right now.
func (t *Tracker) CurrentLimit(ctx context.Context, walletAddr common.Address) (*big.Int, error) {
	limit, err := t.store.GetLimit(ctx, walletAddr)
	if err != nil {
		return nil, fmt.Errorf("get limit: %w", err)
	}
	return limit.Effective(t.env.Now()), nil
}

// IsDisabled reports whether the effective limit is the disabled sentinel.
func (t *Tracker) IsDisabled(ctx context.Context, walletAddr common.Address) (bool, error) {
	limit, err := t.CurrentLimit(ctx, walletAddr)
	if err != nil {
		return false, err
	}
	return limit.Cmp(wallet.LimitDisabled) == 0, nil
}

// CreditDailySpent returns a previously debited amount to the current
// window, flooring at zero. No-op for zero amounts, disabled limits, and
// windows that have already rolled over, since none of those carry a
// debit to undo.
func (t *Tracker) CreditDailySpent(ctx context.Context, walletAddr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	limit, err := t.CurrentLimit(ctx, walletAddr)
	if err != nil {
		return err
	}
	if limit.Cmp(wallet.LimitDisabled) == 0 {
		return nil
	}
	spent, err := t.store.GetDailySpent(ctx, walletAddr)
	if err != nil {
		return fmt.Errorf("get daily spent: %w", err)
	}
	if spent.PeriodEnd <= t.env.Now() || spent.AlreadySpent == nil {
		return nil
	}
	remaining := new(big.Int).Sub(spent.AlreadySpent, amount)
	if remaining.Sign() < 0 {
		remaining = new(big.Int)
	}
	spent.AlreadySpent = remaining
	if err := t.store.SetDailySpent(ctx, walletAddr, spent); err != nil {
		return fmt.Errorf("set daily spent: %w", err)
	}
	return nil
}

// DailyUnspent returns the allowance remaining in the current window.
func (t *Tracker) DailyUnspent(ctx context.Context, walletAddr common.Address) (*big.Int, error) {
	limit, err := t.CurrentLimit(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	spent, err := t.store.GetDailySpent(ctx, walletAddr)
	if err != nil {
		return nil, fmt.Errorf("get daily spent: %w", err)
	}
	now := t.env.Now()
	if spent.PeriodEnd <= now || spent.AlreadySpent == nil {
		return limit, nil
	}
	if spent.AlreadySpent.Cmp(limit) >= 0 {
		return new(big.Int), nil
	}
	return new(big.Int).Sub(limit, spent.AlreadySpent), nil
}

// CheckAndUpdateDailySpent debits amount against the current window.
// Returns true and records the spend when it fits; returns false without
// any state change when it does not, in which case the caller routes the
// action through the pending-transfer path. Zero amounts and disabled
// limits always pass without touching state.
func (t *Tracker) CheckAndUpdateDailySpent(ctx context.Context, walletAddr common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() == 0 {
		return true, nil
	}
	limit, err := t.CurrentLimit(ctx, walletAddr)
	if err != nil {
		return false, err
	}
	if limit.Cmp(wallet.LimitDisabled) == 0 {
		return true, nil
	}
	spent, err := t.store.GetDailySpent(ctx, walletAddr)
	if err != nil {
		return false, fmt.Errorf("get daily spent: %w", err)
	}
	now := t.env.Now()

	if spent.PeriodEnd <= now {
		// Window rolled over; the spend starts a fresh one.
		if amount.Cmp(limit) > 0 {
			return false, nil
		}
		next := wallet.DailySpent{
			AlreadySpent: new(big.Int).Set(amount),
			PeriodEnd:    now + int64(spendWindow/time.Second),
		}
		if err := t.store.SetDailySpent(ctx, walletAddr, next); err != nil {
			return false, fmt.Errorf("set daily spent: %w", err)
		}
		return true, nil
	}

	already := spent.AlreadySpent
	if already == nil {
		already = new(big.Int)
	}
	total := new(big.Int).Add(already, amount)
	if total.Cmp(limit) > 0 {
		return false, nil
	}
	spent.AlreadySpent = total
	if err := t.store.SetDailySpent(ctx, walletAddr, spent); err != nil {
		return false, fmt.Errorf("set daily spent: %w", err)
	}
	return true, nil
}
