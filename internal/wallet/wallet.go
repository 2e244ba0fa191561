// Package wallet defines the core value types shared by the relay and
// spending-limit engines: the wallet record, signature policies, and the
// limit/daily-spent/pending-transfer state that the storage layer persists.
package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Policy describes whose signatures an operation demands.
type Policy uint8

const (
	// PolicyOwnerRequired requires the first signer to be the wallet owner.
	PolicyOwnerRequired Policy = iota
	// PolicyOwnerOptional allows the first signer to be the owner; any
	// non-owner signer must be a guardian.
	PolicyOwnerOptional
	// PolicyAnyone accepts the request without any signature.
	PolicyAnyone
)

// String returns a human-readable policy name.
func (p Policy) String() string {
	switch p {
	case PolicyOwnerRequired:
		return "owner-required"
	case PolicyOwnerOptional:
		return "owner-optional"
	case PolicyAnyone:
		return "anyone"
	default:
		return "unknown"
	}
}

// ETHToken is the sentinel address representing the native asset.
var ETHToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// LimitDisabled is the sentinel limit value meaning "no daily cap".
// It is the maximum value representable in 128 bits.
var LimitDisabled = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Wallet is the account being protected. Exactly one owner at a time;
// authorized modules execute as the wallet, never independently.
type Wallet struct {
	Address common.Address   `json:"address"`
	Owner   common.Address   `json:"owner"`
	Modules []common.Address `json:"modules"`
	Locked  bool             `json:"locked"`
}

// HasModule reports whether the module is currently authorized.
func (w Wallet) HasModule(module common.Address) bool {
	for _, m := range w.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// Limit is a spending ceiling that can be raised or lowered, taking
// effect only after a security delay. At most one pending change is
// outstanding; a new change overwrites it.
type Limit struct {
	Current     *big.Int `json:"current"`
	Pending     *big.Int `json:"pending"`
	ChangeAfter int64    `json:"change_after"`
}

// Effective returns the limit in force at the given unix time: the
// pending value once its activation time has passed, else the current one.
func (l Limit) Effective(now int64) *big.Int {
	if l.ChangeAfter != 0 && l.ChangeAfter < now {
		if l.Pending == nil {
			return new(big.Int)
		}
		return new(big.Int).Set(l.Pending)
	}
	if l.Current == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(l.Current)
}

// DailySpent tracks cumulative spend inside the current 24h window.
// Once PeriodEnd has passed the window has rolled over and AlreadySpent
// logically resets to zero before the next debit.
type DailySpent struct {
	AlreadySpent *big.Int `json:"already_spent"`
	PeriodEnd    int64    `json:"period_end"`
}

// PendingTransfer is an escrowed value movement waiting out its security
// delay. The ID is salted by the creation block so identical parameters
// at different blocks never collide.
type PendingTransfer struct {
	ID           common.Hash `json:"id"`
	ExecuteAfter int64       `json:"execute_after"`
}
