package storage

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// storeTest runs the Store contract against every backend.
func storeTest(t *testing.T, name string, open func(t *testing.T) Store) {
	walletAddr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	owner := common.HexToAddress("0x1111")
	moduleAddr := common.HexToAddress("0x1001")

	t.Run(name+"/wallet lifecycle", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.GetWallet(ctx, walletAddr)
		assert.ErrorIs(t, err, ErrWalletNotFound)

		w := wallet.Wallet{Address: walletAddr, Owner: owner, Modules: []common.Address{moduleAddr}}
		require.NoError(t, s.CreateWallet(ctx, w))
		assert.ErrorIs(t, s.CreateWallet(ctx, w), ErrWalletExists)

		got, err := s.GetWallet(ctx, walletAddr)
		require.NoError(t, err)
		assert.Equal(t, owner, got.Owner)
		assert.False(t, got.Locked)
		assert.True(t, got.HasModule(moduleAddr))

		require.NoError(t, s.SetLocked(ctx, walletAddr, true))
		got, err = s.GetWallet(ctx, walletAddr)
		require.NoError(t, err)
		assert.True(t, got.Locked)

		other := common.HexToAddress("0x2002")
		ok, err := s.IsModuleAuthorized(ctx, walletAddr, other)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, s.SetModuleAuthorization(ctx, walletAddr, other, true))
		ok, err = s.IsModuleAuthorized(ctx, walletAddr, other)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, s.SetModuleAuthorization(ctx, walletAddr, other, false))
		ok, err = s.IsModuleAuthorized(ctx, walletAddr, other)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run(name+"/guardians", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		got, err := s.GetGuardians(ctx, walletAddr)
		require.NoError(t, err)
		assert.Empty(t, got)

		guardians := []common.Address{common.HexToAddress("0xaa"), common.HexToAddress("0xbb")}
		require.NoError(t, s.SetGuardians(ctx, walletAddr, guardians))
		got, err = s.GetGuardians(ctx, walletAddr)
		require.NoError(t, err)
		assert.Equal(t, guardians, got)
	})

	t.Run(name+"/nonce", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		nonce, err := s.GetNonce(ctx, walletAddr)
		require.NoError(t, err)
		assert.Zero(t, nonce.Sign())

		big128 := new(big.Int).Lsh(big.NewInt(77), 128)
		require.NoError(t, s.SetNonce(ctx, walletAddr, big128))
		nonce, err = s.GetNonce(ctx, walletAddr)
		require.NoError(t, err)
		assert.Zero(t, nonce.Cmp(big128))
	})

	t.Run(name+"/used hashes", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		hash := common.HexToHash("0xabcdef")

		used, err := s.IsHashUsed(ctx, walletAddr, hash)
		require.NoError(t, err)
		assert.False(t, used)

		require.NoError(t, s.MarkHashUsed(ctx, walletAddr, hash))
		used, err = s.IsHashUsed(ctx, walletAddr, hash)
		require.NoError(t, err)
		assert.True(t, used)
	})

	t.Run(name+"/limit and daily spent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		limit, err := s.GetLimit(ctx, walletAddr)
		require.NoError(t, err)
		assert.Nil(t, limit.Current)

		want := wallet.Limit{Current: big.NewInt(1000), Pending: big.NewInt(5000), ChangeAfter: 42}
		require.NoError(t, s.SetLimit(ctx, walletAddr, want))
		limit, err = s.GetLimit(ctx, walletAddr)
		require.NoError(t, err)
		assert.Zero(t, limit.Current.Cmp(want.Current))
		assert.Zero(t, limit.Pending.Cmp(want.Pending))
		assert.Equal(t, int64(42), limit.ChangeAfter)

		spent, err := s.GetDailySpent(ctx, walletAddr)
		require.NoError(t, err)
		assert.Nil(t, spent.AlreadySpent)

		require.NoError(t, s.SetDailySpent(ctx, walletAddr, wallet.DailySpent{AlreadySpent: big.NewInt(300), PeriodEnd: 99}))
		spent, err = s.GetDailySpent(ctx, walletAddr)
		require.NoError(t, err)
		assert.Equal(t, int64(300), spent.AlreadySpent.Int64())
		assert.Equal(t, int64(99), spent.PeriodEnd)
	})

	t.Run(name+"/pending transfers", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		id1 := common.HexToHash("0x01")
		id2 := common.HexToHash("0x02")

		after, err := s.GetPendingTransfer(ctx, walletAddr, id1)
		require.NoError(t, err)
		assert.Zero(t, after)

		require.NoError(t, s.SetPendingTransfer(ctx, walletAddr, id1, 100))
		require.NoError(t, s.SetPendingTransfer(ctx, walletAddr, id2, 200))

		after, err = s.GetPendingTransfer(ctx, walletAddr, id1)
		require.NoError(t, err)
		assert.Equal(t, int64(100), after)

		list, err := s.ListPendingTransfers(ctx, walletAddr)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		// Other wallets see nothing.
		list, err = s.ListPendingTransfers(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, s.DeletePendingTransfer(ctx, walletAddr, id1))
		after, err = s.GetPendingTransfer(ctx, walletAddr, id1)
		require.NoError(t, err)
		assert.Zero(t, after)
	})

	t.Run(name+"/whitelist", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		target := common.HexToAddress("0xcc")

		after, err := s.GetWhitelistAfter(ctx, walletAddr, target)
		require.NoError(t, err)
		assert.Zero(t, after)

		require.NoError(t, s.SetWhitelistAfter(ctx, walletAddr, target, 1234))
		after, err = s.GetWhitelistAfter(ctx, walletAddr, target)
		require.NoError(t, err)
		assert.Equal(t, int64(1234), after)

		require.NoError(t, s.RemoveFromWhitelist(ctx, walletAddr, target))
		after, err = s.GetWhitelistAfter(ctx, walletAddr, target)
		require.NoError(t, err)
		assert.Zero(t, after)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTest(t, "memory", func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestPebbleStore(t *testing.T) {
	storeTest(t, "pebble", func(t *testing.T) Store {
		s, err := NewPebbleStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	walletAddr := common.HexToAddress("0x1234")

	require.NoError(t, s.SetLimit(ctx, walletAddr, wallet.Limit{Current: big.NewInt(100)}))
	limit, err := s.GetLimit(ctx, walletAddr)
	require.NoError(t, err)

	// Mutating the returned value must not leak into the store.
	limit.Current.SetInt64(999)
	again, err := s.GetLimit(ctx, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.Current.Int64())
}
