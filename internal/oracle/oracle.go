// Package oracle provides token prices for converting refund amounts into
// their ether-equivalent before the daily-limit check.
package oracle

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// ErrUnknownToken is returned when no price is available for a token.
var ErrUnknownToken = errors.New("no price for token")

// PriceOracle returns the price of one smallest token unit in wei,
// scaled by 10^18. Equivalently: weiPerWholeToken * 10^18 / 10^decimals,
// i.e. 10^36 divided by the token's own decimal count for a token worth
// one ether.
type PriceOracle interface {
	TokenPrice(ctx context.Context, token common.Address) (*big.Int, error)
}

var weiScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// EtherValue converts a token amount to wei using the oracle price scale:
// amount * price / 10^18. ETH amounts pass through unchanged.
func EtherValue(ctx context.Context, oracle PriceOracle, amount *big.Int, token common.Address) (*big.Int, error) {
	if token == wallet.ETHToken {
		return new(big.Int).Set(amount), nil
	}
	price, err := oracle.TokenPrice(ctx, token)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount, price)
	return value.Div(value, weiScale), nil
}

// Static is a fixed price table, used in tests and the local stage.
type Static struct {
	prices map[common.Address]*big.Int
}

// NewStatic creates a static oracle over the given table.
func NewStatic(prices map[common.Address]*big.Int) *Static {
	table := make(map[common.Address]*big.Int, len(prices))
	for token, price := range prices {
		table[token] = new(big.Int).Set(price)
	}
	return &Static{prices: table}
}

// SetPrice adds or replaces a token price.
func (s *Static) SetPrice(token common.Address, price *big.Int) {
	s.prices[token] = new(big.Int).Set(price)
}

// TokenPrice implements PriceOracle.
func (s *Static) TokenPrice(_ context.Context, token common.Address) (*big.Int, error) {
	price, ok := s.prices[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	return new(big.Int).Set(price), nil
}
