package oracle

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/httpclient"
)

const (
	cmcBaseURL  = "https://pro-api.coinmarketcap.com"
	cmcQuoteTTL = 5 * time.Minute
)

type cmcQuote struct {
	Price float64 `json:"price"`
}

type cmcTokenData struct {
	Symbol string              `json:"symbol"`
	Quote  map[string]cmcQuote `json:"quote"`
}

type cmcStatus struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type cmcResponse struct {
	Status cmcStatus                 `json:"status"`
	Data   map[string][]cmcTokenData `json:"data"`
}

type cachedPrice struct {
	price     *big.Int
	fetchedAt time.Time
}

// CoinMarketCap resolves token prices from the CMC quotes API, converted
// to the engine's wei-scaled representation and cached briefly. Decimal
// counts come from the ledger, which owns token metadata.
type CoinMarketCap struct {
	client  *httpclient.Client
	symbols map[common.Address]string
	ledger  chain.Ledger
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[common.Address]cachedPrice
}

// NewCoinMarketCap creates a CMC-backed oracle. symbols maps token
// contracts to their CMC ticker symbols.
func NewCoinMarketCap(apiKey string, symbols map[common.Address]string, ledger chain.Ledger, logger *zap.Logger) *CoinMarketCap {
	return &CoinMarketCap{
		client: httpclient.New(
			httpclient.WithBaseURL(cmcBaseURL),
			httpclient.WithHeader("X-CMC_PRO_API_KEY", apiKey),
			httpclient.WithTimeout(10*time.Second),
		),
		symbols: symbols,
		ledger:  ledger,
		logger:  logger,
		cache:   make(map[common.Address]cachedPrice),
	}
}

// TokenPrice implements PriceOracle. The CMC quote is requested in ETH
// and rescaled to wei-per-smallest-unit * 10^18.
func (c *CoinMarketCap) TokenPrice(ctx context.Context, token common.Address) (*big.Int, error) {
	symbol, ok := c.symbols[token]
	if !ok {
		return nil, ErrUnknownToken
	}

	c.mu.Lock()
	cached, hit := c.cache[token]
	c.mu.Unlock()
	if hit && time.Since(cached.fetchedAt) < cmcQuoteTTL {
		return new(big.Int).Set(cached.price), nil
	}

	path := fmt.Sprintf("/v2/cryptocurrency/quotes/latest?symbol=%s&convert=ETH",
		url.QueryEscape(symbol))
	var resp cmcResponse
	if err := c.client.GetJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("cmc quote request: %w", err)
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("cmc quote error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	entries := resp.Data[strings.ToUpper(symbol)]
	if len(entries) == 0 {
		return nil, ErrUnknownToken
	}
	quote, ok := entries[0].Quote["ETH"]
	if !ok || quote.Price <= 0 {
		return nil, ErrUnknownToken
	}

	price := scaleQuote(quote.Price, c.ledger.TokenDecimals(token))
	c.mu.Lock()
	c.cache[token] = cachedPrice{price: price, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("token price refreshed",
		zap.String("token", token.Hex()),
		zap.String("symbol", symbol),
		zap.Float64("eth_quote", quote.Price),
	)
	return new(big.Int).Set(price), nil
}

// scaleQuote converts an ETH-per-whole-token quote into the wei-scaled
// integer price: quote * 10^18 (wei) * 10^18 / 10^decimals.
func scaleQuote(ethPerToken float64, decimals uint8) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(ethPerToken), new(big.Float).SetInt(weiScale))
	scaled.Mul(scaled, new(big.Float).SetInt(weiScale))
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled.Quo(scaled, new(big.Float).SetInt(divisor))
	out, _ := scaled.Int(nil)
	return out
}
