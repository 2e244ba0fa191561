package oracle

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
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

func TestStaticOracle(t *testing.T) {
	ctx := context.Background()
	token := common.HexToAddress("0x7777")

	oracle := NewStatic(map[common.Address]*big.Int{
		token: big.NewInt(500),
	})

	price, err := oracle.TokenPrice(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(500), price.Int64())

	// The returned price is a copy.
	price.SetInt64(0)
	again, err := oracle.TokenPrice(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(500), again.Int64())

	_, err = oracle.TokenPrice(ctx, common.HexToAddress("0x9999"))
	assert.ErrorIs(t, err, ErrUnknownToken)

	oracle.SetPrice(token, big.NewInt(700))
	price, err = oracle.TokenPrice(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(700), price.Int64())
}

func TestScaleQuoteUsesTokenDecimals(t *testing.T) {
	// One token worth one ether with six decimals: 10^36 / 10^6 per
	// smallest unit.
	want, ok := new(big.Int).SetString("1000000000000000000000000000000", 10)
	require.True(t, ok)
	assert.Zero(t, want.Cmp(scaleQuote(1.0, 6)))

	// Eighteen decimals collapse to the plain wei scale.
	half := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	half.Div(half, big.NewInt(2))
	assert.Zero(t, half.Cmp(scaleQuote(0.5, 18)))
}

func TestCoinMarketCapRejectsUnmappedToken(t *testing.T) {
	ledger := chain.NewSimulator(1, time.Unix(1_700_000_000, 0))
	cmc := NewCoinMarketCap("test-key", nil, ledger, zap.NewNop())

	_, err := cmc.TokenPrice(context.Background(), common.HexToAddress("0x7777"))
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestEtherValue(t *testing.T) {
	ctx := context.Background()
	token := common.HexToAddress("0x7777")
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	t.Run("ether passes through unchanged", func(t *testing.T) {
		oracle := NewStatic(nil)
		amount := big.NewInt(123_456)
		value, err := EtherValue(ctx, oracle, amount, wallet.ETHToken)
		require.NoError(t, err)
		assert.Zero(t, value.Cmp(amount))

		// The result must be independent of the input.
		value.SetInt64(0)
		assert.Equal(t, int64(123_456), amount.Int64())
	})

	t.Run("token amounts scale by price over 10^18", func(t *testing.T) {
		// Two wei per smallest unit: price = 2 * 10^18.
		price := new(big.Int).Mul(big.NewInt(2), ether)
		oracle := NewStatic(map[common.Address]*big.Int{token: price})

		value, err := EtherValue(ctx, oracle, big.NewInt(300), token)
		require.NoError(t, err)
		assert.Equal(t, int64(600), value.Int64())
	})

	t.Run("sub-wei results truncate toward zero", func(t *testing.T) {
		oracle := NewStatic(map[common.Address]*big.Int{token: big.NewInt(1)})
		value, err := EtherValue(ctx, oracle, big.NewInt(5), token)
		require.NoError(t, err)
		assert.Zero(t, value.Sign())
	})

	t.Run("unknown token propagates the oracle error", func(t *testing.T) {
		oracle := NewStatic(nil)
		_, err := EtherValue(ctx, oracle, big.NewInt(1), token)
		assert.ErrorIs(t, err, ErrUnknownToken)
	})
}
