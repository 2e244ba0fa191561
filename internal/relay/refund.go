package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/limits"
	"github.com/cyphera/wallet-relayer/internal/oracle"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// Fixed gas overheads the meter cannot observe: the refund logic cannot
// meter itself, and the single-signer path runs extra limit accounting.
const (
	refundBaseGas  = 30000
	refundLimitGas = 10000
)

// ErrRefundOverLimit rejects a relay whose gas refund alone would exceed
// the wallet's remaining daily allowance.
var ErrRefundOverLimit = errors.New("refund exceeds daily allowance")

// RefundAccountant reimburses the relayer from wallet funds. Refunds are
// only paid for owner-approved actions; a guardian co-signed action's
// refund is exempt from the daily cap, while a single-owner-signature
// refund is converted to its ether value and debited against it.
//
// The accountant works in two phases. Reserve runs before the inner
// module call: it debits the worst-case refund against the daily
// allowance and escrows it from the wallet to the engine address, so a
// wallet that cannot afford its refund is rejected before anything else
// happens. Settle runs after the call: it pays the metered refund out of
// the escrow, returns the surplus to the wallet, and credits the unused
// allowance back. A reservation whose relay is rejected between the two
// phases is undone with Cancel.
type RefundAccountant struct {
	engine common.Address
	limits *limits.Tracker
	oracle oracle.PriceOracle
	env    chain.Env
	events *events.Log
}

// NewRefundAccountant creates a refund accountant. engine is the escrow
// holder for reserved refunds.
func NewRefundAccountant(engine common.Address, tracker *limits.Tracker, priceOracle oracle.PriceOracle, env chain.Env, eventLog *events.Log) *RefundAccountant {
	return &RefundAccountant{
		engine: engine,
		limits: tracker,
		oracle: priceOracle,
		env:    env,
		events: eventLog,
	}
}

// Reservation is a worst-case refund held in escrow by the engine while
// the inner module call runs.
type Reservation struct {
	walletAddr    common.Address
	token         common.Address
	refundAddress common.Address
	relayer       common.Address
	gasPrice      *big.Int
	gasLimit      uint64
	singleSigner  bool
	// worst is gasLimit * gasPrice, the escrowed token amount.
	worst *big.Int
	// etherWorst is the allowance debited for it; nil when the daily
	// limit did not apply to this reservation.
	etherWorst *big.Int
}

// Reserve escrows the worst-case refund before the module call. Returns
// a nil reservation when no refund is owed: zero gas price, or an action
// that was not owner-required, since refunding a non-owner-initiated
// action would let guardians or anonymous submitters drain wallet funds
// through fees.
func (a *RefundAccountant) Reserve(ctx context.Context, walletAddr common.Address, gasPrice *big.Int, gasLimit uint64, requiredSigs int, policy wallet.Policy, refundToken, refundAddress, relayer common.Address) (*Reservation, error) {
	if gasPrice == nil || gasPrice.Sign() == 0 || policy != wallet.PolicyOwnerRequired {
		return nil, nil
	}

	res := &Reservation{
		walletAddr:    walletAddr,
		token:         refundToken,
		refundAddress: refundAddress,
		relayer:       relayer,
		gasPrice:      new(big.Int).Set(gasPrice),
		gasLimit:      gasLimit,
		singleSigner:  requiredSigs == 1,
		worst:         new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice),
	}

	if res.singleSigner {
		etherWorst, err := oracle.EtherValue(ctx, a.oracle, res.worst, refundToken)
		if err != nil {
			return nil, fmt.Errorf("price refund token: %w", err)
		}
		ok, err := a.limits.CheckAndUpdateDailySpent(ctx, walletAddr, etherWorst)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrRefundOverLimit
		}
		res.etherWorst = etherWorst
	}

	if err := a.env.Transfer(res.token, walletAddr, a.engine, res.worst); err != nil {
		if res.etherWorst != nil {
			if creditErr := a.limits.CreditDailySpent(ctx, walletAddr, res.etherWorst); creditErr != nil {
				return nil, creditErr
			}
		}
		return nil, fmt.Errorf("escrow refund: %w", err)
	}
	return res, nil
}

// Cancel returns a reservation's escrow and allowance untouched, for a
// relay rejected after Reserve.
func (a *RefundAccountant) Cancel(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	if err := a.env.Transfer(res.token, a.engine, res.walletAddr, res.worst); err != nil {
		return fmt.Errorf("return refund escrow: %w", err)
	}
	return a.limits.CreditDailySpent(ctx, res.walletAddr, res.etherWorst)
}

// Settle pays the relayer the metered refund out of the escrow, returns
// the surplus to the wallet, and credits the unused allowance back. The
// engine holds the full worst-case amount, so settlement cannot fail on
// balance.
func (a *RefundAccountant) Settle(ctx context.Context, res *Reservation, meter *chain.Meter) error {
	if res == nil {
		return nil
	}

	gasConsumed := meter.Used() + refundBaseGas
	if res.singleSigner {
		gasConsumed += refundLimitGas
	}
	amount := refundAmount(gasConsumed, res.gasLimit, res.gasPrice)

	recipient := res.refundAddress
	if recipient == (common.Address{}) {
		// Defaulting to the submitting relayer stops a front-runner from
		// redirecting the refund elsewhere.
		recipient = res.relayer
	}
	if err := a.env.Transfer(res.token, a.engine, recipient, amount); err != nil {
		return fmt.Errorf("pay refund: %w", err)
	}

	surplus := new(big.Int).Sub(res.worst, amount)
	if surplus.Sign() > 0 {
		if err := a.env.Transfer(res.token, a.engine, res.walletAddr, surplus); err != nil {
			return fmt.Errorf("return refund surplus: %w", err)
		}
	}

	if res.etherWorst != nil && surplus.Sign() > 0 {
		// Credit back the allowance held for the unused part of the
		// reservation, pro rata so the spent fraction matches the paid
		// fraction regardless of price scale.
		credit := new(big.Int).Mul(res.etherWorst, surplus)
		credit.Div(credit, res.worst)
		if err := a.limits.CreditDailySpent(ctx, res.walletAddr, credit); err != nil {
			return err
		}
	}

	a.events.Emit(events.TypeRefund, res.walletAddr, events.Refund{
		RefundAddress: recipient,
		RefundToken:   res.token,
		Amount:        (*hexutil.Big)(new(big.Int).Set(amount)),
	})
	return nil
}

// refundAmount is min(gasConsumed, gasLimit) * gasPrice.
func refundAmount(gasConsumed, gasLimit uint64, gasPrice *big.Int) *big.Int {
	gas := gasConsumed
	if gasLimit < gas {
		gas = gasLimit
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
}
