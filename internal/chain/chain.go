// Package chain abstracts the execution environment the relay engine runs
// against: block height, wall clock, a per-call gas meter, and the asset
// ledger funds move on. The environment processes one call at a time to
// completion, so engine state transitions are atomic with respect to each
// other.
package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientBalance is returned by ledger transfers that would
// overdraw the sender.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Env is the execution environment consumed by the relay engine.
type Env interface {
	Ledger
	// BlockNumber returns the current block height.
	BlockNumber() uint64
	// Now returns the current unix timestamp.
	Now() int64
}

// Ledger moves value between addresses. The native asset is addressed by
// the wallet.ETHToken sentinel; any other address is a token with its own
// decimal count.
type Ledger interface {
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	TokenDecimals(token common.Address) uint8
}

// Meter is a synthetic per-call gas meter. It exists so refund accounting
// can be exercised faithfully: modules consume gas as they run and the
// accountant reads the total afterwards.
type Meter struct {
	limit uint64
	used  uint64
}

// NewMeter creates a meter with the given gas budget.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Remaining returns the gas left on the meter.
func (m *Meter) Remaining() uint64 {
	if m.used >= m.limit {
		return 0
	}
	return m.limit - m.used
}

// Use consumes n units, saturating at the budget.
func (m *Meter) Use(n uint64) {
	m.used += n
	if m.used > m.limit {
		m.used = m.limit
	}
}

// Used returns the gas consumed so far.
func (m *Meter) Used() uint64 {
	return m.used
}
