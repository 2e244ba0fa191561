package relay

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

func TestMakeNonce(t *testing.T) {
	nonce := MakeNonce(42, 7)
	assert.Equal(t, uint64(42), new(big.Int).Rsh(nonce, 128).Uint64())
	low := new(big.Int).And(nonce, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))
	assert.Equal(t, uint64(7), low.Uint64())
}

func TestReplayGuardNonceScheme(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	guard := NewReplayGuard(store, DefaultBlockBound)
	walletAddr := common.HexToAddress("0x1234")
	hash := crypto.Keccak256Hash([]byte("request"))

	currentBlock := uint64(100)

	t.Run("first nonce accepted", func(t *testing.T) {
		err := guard.CheckAndConsume(ctx, walletAddr, MakeNonce(100, 1), hash, 1, wallet.PolicyOwnerRequired, currentBlock)
		assert.NoError(t, err)
	})

	t.Run("replay of same nonce rejected", func(t *testing.T) {
		err := guard.CheckAndConsume(ctx, walletAddr, MakeNonce(100, 1), hash, 1, wallet.PolicyOwnerRequired, currentBlock)
		assert.ErrorIs(t, err, ErrDuplicateRequest)
	})

	t.Run("lower nonce rejected", func(t *testing.T) {
		err := guard.CheckAndConsume(ctx, walletAddr, MakeNonce(99, 50), hash, 1, wallet.PolicyOwnerRequired, currentBlock)
		assert.ErrorIs(t, err, ErrDuplicateRequest)
	})

	t.Run("higher nonce accepted", func(t *testing.T) {
		err := guard.CheckAndConsume(ctx, walletAddr, MakeNonce(100, 2), hash, 1, wallet.PolicyOwnerRequired, currentBlock)
		assert.NoError(t, err)
	})

	t.Run("block component beyond bound rejected", func(t *testing.T) {
		tooFar := MakeNonce(currentBlock+DefaultBlockBound+1, 0)
		err := guard.CheckAndConsume(ctx, walletAddr, tooFar, hash, 1, wallet.PolicyOwnerRequired, currentBlock)
		assert.ErrorIs(t, err, ErrNonceOutOfBounds)
	})

	t.Run("block component at bound accepted", func(t *testing.T) {
		atBound := MakeNonce(currentBlock+DefaultBlockBound, 0)
		err := guard.CheckAndConsume(ctx, walletAddr, atBound, hash, 1, wallet.PolicyOwnerRequired, currentBlock)
		assert.NoError(t, err)
	})
}

func TestReplayGuardHashScheme(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	guard := NewReplayGuard(store, 0)
	walletAddr := common.HexToAddress("0x1234")

	hashA := crypto.Keccak256Hash([]byte("request a"))
	hashB := crypto.Keccak256Hash([]byte("request b"))

	// Multi-signer requests use the hash set regardless of nonce value.
	require.NoError(t, guard.CheckAndConsume(ctx, walletAddr, new(big.Int), hashA, 2, wallet.PolicyOwnerRequired, 1))
	assert.ErrorIs(t, guard.CheckAndConsume(ctx, walletAddr, new(big.Int), hashA, 2, wallet.PolicyOwnerRequired, 1), ErrDuplicateRequest)

	// A different payload stays valid: hash-set requests are unordered.
	assert.NoError(t, guard.CheckAndConsume(ctx, walletAddr, new(big.Int), hashB, 2, wallet.PolicyOwnerRequired, 1))

	// Zero-signer requests also ride the hash set.
	hashC := crypto.Keccak256Hash([]byte("request c"))
	require.NoError(t, guard.CheckAndConsume(ctx, walletAddr, new(big.Int), hashC, 0, wallet.PolicyAnyone, 1))
	assert.ErrorIs(t, guard.CheckAndConsume(ctx, walletAddr, new(big.Int), hashC, 0, wallet.PolicyAnyone, 1), ErrDuplicateRequest)
}

func TestReplayGuardSchemesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	guard := NewReplayGuard(store, 0)
	walletAddr := common.HexToAddress("0x1234")
	hash := crypto.Keccak256Hash([]byte("same payload"))
	nonce := MakeNonce(1, 1)

	// Consuming through the nonce scheme does not mark the hash used.
	require.NoError(t, guard.CheckAndConsume(ctx, walletAddr, nonce, hash, 1, wallet.PolicyOwnerRequired, 1))
	assert.NoError(t, guard.CheckAndConsume(ctx, walletAddr, nonce, hash, 2, wallet.PolicyOwnerRequired, 1))
}
