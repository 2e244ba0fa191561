// Package relay orchestrates relayed meta-transactions: signature and
// replay validation, the non-reverting inner module call, and the
// relayer's gas refund.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// DefaultBlockBound is how far ahead of the current block a nonce's
// embedded block number may point. It stops a relayer from holding a
// validly-signed-but-unsubmitted request indefinitely.
const DefaultBlockBound = 10000

var (
	// ErrDuplicateRequest is returned when a signed payload has already
	// been consumed, by either replay scheme.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrNonceOutOfBounds is returned when the nonce's block component
	// exceeds the forward-looking replay window.
	ErrNonceOutOfBounds = errors.New("nonce block bound out of range")
)

// ReplayGuard decides whether an authorized request has already been
// consumed. Two schemes share one capability: single-owner-signature
// requests ride a gas-cheap incremental nonce with natural ordering,
// while multi-signer and zero-signer requests use a used-hash set because
// no single linear nonce orders them safely.
type ReplayGuard struct {
	store      storage.Store
	blockBound uint64
}

// NewReplayGuard creates a guard over the given store. blockBound of 0
// selects DefaultBlockBound.
func NewReplayGuard(store storage.Store, blockBound uint64) *ReplayGuard {
	if blockBound == 0 {
		blockBound = DefaultBlockBound
	}
	return &ReplayGuard{store: store, blockBound: blockBound}
}

// CheckAndConsume validates and consumes a request's replay token. For
// the nonce scheme the high 128 bits of the nonce carry the creation
// block number and the low 128 bits a free-form counter; the nonce must
// strictly increase and its block component must not point more than the
// block bound ahead of the chain head.
func (g *ReplayGuard) CheckAndConsume(ctx context.Context, walletAddr common.Address, nonce *big.Int, signedHash common.Hash, requiredSigs int, policy wallet.Policy, currentBlock uint64) error {
	if requiredSigs == 1 && policy == wallet.PolicyOwnerRequired {
		return g.consumeNonce(ctx, walletAddr, nonce, currentBlock)
	}
	return g.consumeHash(ctx, walletAddr, signedHash)
}

func (g *ReplayGuard) consumeNonce(ctx context.Context, walletAddr common.Address, nonce *big.Int, currentBlock uint64) error {
	stored, err := g.store.GetNonce(ctx, walletAddr)
	if err != nil {
		return fmt.Errorf("get nonce: %w", err)
	}
	if nonce.Cmp(stored) <= 0 {
		return ErrDuplicateRequest
	}
	nonceBlock := new(big.Int).Rsh(nonce, 128)
	bound := new(big.Int).SetUint64(currentBlock + g.blockBound)
	if nonceBlock.Cmp(bound) > 0 {
		return ErrNonceOutOfBounds
	}
	if err := g.store.SetNonce(ctx, walletAddr, nonce); err != nil {
		return fmt.Errorf("set nonce: %w", err)
	}
	return nil
}

func (g *ReplayGuard) consumeHash(ctx context.Context, walletAddr common.Address, signedHash common.Hash) error {
	used, err := g.store.IsHashUsed(ctx, walletAddr, signedHash)
	if err != nil {
		return fmt.Errorf("check used hash: %w", err)
	}
	if used {
		return ErrDuplicateRequest
	}
	if err := g.store.MarkHashUsed(ctx, walletAddr, signedHash); err != nil {
		return fmt.Errorf("mark used hash: %w", err)
	}
	return nil
}

// MakeNonce builds a nonce for the incremental scheme: the creation block
// in the high 128 bits and a counter in the low 128 bits.
func MakeNonce(block uint64, counter uint64) *big.Int {
	nonce := new(big.Int).SetUint64(block)
	nonce.Lsh(nonce, 128)
	return nonce.Or(nonce, new(big.Int).SetUint64(counter))
}
