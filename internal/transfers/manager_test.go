package transfers

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/limits"
	"github.com/cyphera/wallet-relayer/internal/module"
	"github.com/cyphera/wallet-relayer/internal/oracle"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

const (
	securityPeriod = 24 * time.Hour
	securityWindow = 24 * time.Hour
)

var (
	moduleAddr = common.HexToAddress("0x1001")
	walletAddr = common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	recipient  = common.HexToAddress("0x00000000000000000000000000000000000bbbbb")
)

type harness struct {
	manager *Manager
	sim     *chain.Simulator
	store   *storage.MemoryStore
	oracle  *oracle.Static
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	store := storage.NewMemoryStore()
	sim := chain.NewSimulator(1, time.Unix(1_700_000_000, 0))
	eventLog := events.NewLog(logger)
	priceOracle := oracle.NewStatic(nil)
	tracker := limits.NewTracker(store, sim, eventLog, securityPeriod, logger)
	manager := NewManager(moduleAddr, store, tracker, sim, eventLog, priceOracle,
		securityPeriod, securityWindow, logger)

	ctx := context.Background()
	require.NoError(t, store.SetLimit(ctx, walletAddr, wallet.Limit{Current: big.NewInt(1_000_000)}))
	sim.Mint(wallet.ETHToken, walletAddr, big.NewInt(100_000_000))

	return &harness{manager: manager, sim: sim, store: store, oracle: priceOracle}
}

func TestTransferWithinLimitIsImmediate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	err := h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, big.NewInt(500_000), nil, meter)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), h.sim.BalanceOf(wallet.ETHToken, recipient).Int64())

	pending, err := h.manager.PendingTransfers(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransferOverLimitIsEscrowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	// 999_999 fits, then 2 more wei must go through escrow.
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, big.NewInt(999_999), nil, meter))
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, big.NewInt(2), nil, meter))

	// Only the first amount moved.
	assert.Equal(t, int64(999_999), h.sim.BalanceOf(wallet.ETHToken, recipient).Int64())

	pending, err := h.manager.PendingTransfers(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	id := PendingTransferID(wallet.ETHToken, recipient, big.NewInt(2), nil, h.sim.BlockNumber())
	assert.Equal(t, id, pending[0].ID)
}

func TestExecutePendingTransferWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	amount := big.NewInt(2_000_000) // over the daily limit, forces escrow
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	block := h.sim.BlockNumber()

	t.Run("too early", func(t *testing.T) {
		err := h.manager.ExecutePendingTransfer(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, block)
		assert.ErrorIs(t, err, ErrOutsideWindow)
	})

	t.Run("inside the window", func(t *testing.T) {
		h.sim.AdvanceTime(securityPeriod + time.Minute)
		err := h.manager.ExecutePendingTransfer(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, block)
		require.NoError(t, err)
		assert.Equal(t, amount, h.sim.BalanceOf(wallet.ETHToken, recipient))

		// The escrow entry is gone; executing again is unknown.
		err = h.manager.ExecutePendingTransfer(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, block)
		assert.ErrorIs(t, err, ErrUnknownPendingTransfer)
	})
}

func TestExecutePendingTransferExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	amount := big.NewInt(2_000_000)
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	block := h.sim.BlockNumber()

	// Past executeAfter + window the escrow can no longer be released.
	h.sim.AdvanceTime(securityPeriod + securityWindow + time.Minute)
	err := h.manager.ExecutePendingTransfer(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, block)
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestDuplicateEscrowInSameBlockRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	amount := big.NewInt(2_000_000)
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	err := h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter)
	assert.ErrorIs(t, err, ErrDuplicatePendingTransfer)

	// The next block salts a fresh id.
	h.sim.AdvanceBlocks(1)
	assert.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
}

func TestFailedTransferRestoresAllowance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	// A priced token the wallet holds none of: the limit check passes,
	// the ledger transfer fails on balance.
	token := common.HexToAddress("0x7777")
	h.oracle.SetPrice(token, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	err := h.manager.TransferToken(ctx, walletAddr, token, recipient, big.NewInt(100), nil, meter)
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)

	// The failed transfer spent nothing, so a full-allowance transfer
	// still fits immediately.
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, big.NewInt(1_000_000), nil, meter))
	assert.Equal(t, int64(1_000_000), h.sim.BalanceOf(wallet.ETHToken, recipient).Int64())
}

func TestFailedReleaseKeepsEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	amount := big.NewInt(2_000_000) // over the daily limit, forces escrow
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	block := h.sim.BlockNumber()
	h.sim.AdvanceTime(securityPeriod + time.Minute)

	// Drain the wallet so the release fails on balance.
	drain := common.HexToAddress("0x00000000000000000000000000000000000ccccc")
	balance := h.sim.BalanceOf(wallet.ETHToken, walletAddr)
	require.NoError(t, h.sim.Transfer(wallet.ETHToken, walletAddr, drain, balance))

	err := h.manager.ExecutePendingTransfer(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, block)
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)

	// The escrow entry survives the failed release and is still
	// executable once the wallet is funded again.
	pending, err := h.manager.PendingTransfers(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.sim.Mint(wallet.ETHToken, walletAddr, amount)
	require.NoError(t, h.manager.ExecutePendingTransfer(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, block))
	assert.Equal(t, amount, h.sim.BalanceOf(wallet.ETHToken, recipient))
}

func TestCancelPendingTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	amount := big.NewInt(2_000_000)
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	id := PendingTransferID(wallet.ETHToken, recipient, amount, nil, h.sim.BlockNumber())

	require.NoError(t, h.manager.CancelPendingTransfer(ctx, walletAddr, id))

	pending, err := h.manager.PendingTransfers(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = h.manager.CancelPendingTransfer(ctx, walletAddr, id)
	assert.ErrorIs(t, err, ErrUnknownPendingTransfer)
}

func TestWhitelistDelayAndBypass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	require.NoError(t, h.manager.AddToWhitelist(ctx, walletAddr, recipient))

	// Not yet active: a transfer over the limit is still escrowed.
	trusted, err := h.manager.IsWhitelisted(ctx, walletAddr, recipient)
	require.NoError(t, err)
	assert.False(t, trusted)

	amount := big.NewInt(2_000_000)
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	assert.Zero(t, h.sim.BalanceOf(wallet.ETHToken, recipient).Sign())

	// Past the delay the whitelist bypasses the limit entirely.
	h.sim.AdvanceTime(securityPeriod + time.Minute)
	trusted, err = h.manager.IsWhitelisted(ctx, walletAddr, recipient)
	require.NoError(t, err)
	assert.True(t, trusted)

	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, wallet.ETHToken, recipient, amount, nil, meter))
	assert.Equal(t, amount, h.sim.BalanceOf(wallet.ETHToken, recipient))
}

func TestWhitelistAddRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.manager.AddToWhitelist(ctx, walletAddr, recipient))
	assert.ErrorIs(t, h.manager.AddToWhitelist(ctx, walletAddr, recipient), ErrAlreadyWhitelisted)

	require.NoError(t, h.manager.RemoveFromWhitelist(ctx, walletAddr, recipient))
	assert.ErrorIs(t, h.manager.RemoveFromWhitelist(ctx, walletAddr, recipient), ErrNotWhitelisted)
}

func TestUnpricedTokenCountsAsZeroEtherValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	token := common.HexToAddress("0x7777")
	h.sim.RegisterToken(token, 6)
	h.sim.Mint(token, walletAddr, big.NewInt(10_000_000))

	// The oracle has no price for the token, so the limit does not apply
	// and the transfer moves immediately.
	err := h.manager.TransferToken(ctx, walletAddr, token, recipient, big.NewInt(9_000_000), nil, meter)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000), h.sim.BalanceOf(token, recipient).Int64())
}

func TestPricedTokenDebitsEtherValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	token := common.HexToAddress("0x7777")
	h.sim.RegisterToken(token, 6)
	h.sim.Mint(token, walletAddr, big.NewInt(10_000_000))

	// 1 token unit = 2 wei: price is wei-per-unit scaled by 10^18.
	price := new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	h.oracle.SetPrice(token, price)

	// 600_000 units = 1_200_000 wei of ether value, over the 1_000_000
	// limit, so it is escrowed.
	require.NoError(t, h.manager.TransferToken(ctx, walletAddr, token, recipient, big.NewInt(600_000), nil, meter))
	assert.Zero(t, h.sim.BalanceOf(token, recipient).Sign())

	pending, err := h.manager.PendingTransfers(ctx, walletAddr)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestExecuteDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := chain.NewMeter(1_000_000)

	data, err := MethodTransferToken.Pack(walletAddr, wallet.ETHToken, recipient, big.NewInt(100), []byte{})
	require.NoError(t, err)
	_, err = h.manager.Execute(ctx, walletAddr, data, meter)
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.sim.BalanceOf(wallet.ETHToken, recipient).Int64())

	_, err = h.manager.Execute(ctx, walletAddr, []byte{0xde, 0xad, 0xbe, 0xef}, meter)
	assert.ErrorIs(t, err, module.ErrUnknownSelector)
}

func TestRequiredSignatures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	transferData, err := MethodTransferToken.Pack(walletAddr, wallet.ETHToken, recipient, big.NewInt(1), []byte{})
	require.NoError(t, err)
	executeData, err := MethodExecutePendingTransfer.Pack(walletAddr, wallet.ETHToken, recipient, big.NewInt(1), []byte{}, big.NewInt(1))
	require.NoError(t, err)

	sigs, policy, err := h.manager.RequiredSignatures(ctx, walletAddr, transferData)
	require.NoError(t, err)
	assert.Equal(t, 1, sigs)
	assert.Equal(t, wallet.PolicyOwnerRequired, policy)

	sigs, policy, err = h.manager.RequiredSignatures(ctx, walletAddr, executeData)
	require.NoError(t, err)
	assert.Equal(t, 0, sigs)
	assert.Equal(t, wallet.PolicyAnyone, policy)
}
