// Package config loads service configuration from the environment. A
// .env file is read first for local development, then the typed struct
// is parsed from environment variables.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Valid stages.
const (
	StageProd  = "prod"
	StageDev   = "dev"
	StageLocal = "local"
)

// Config is the full service configuration.
type Config struct {
	Stage string `env:"STAGE" envDefault:"local"`
	Port  string `env:"API_PORT" envDefault:"8000"`

	// Store selects the wallet-state backend: memory, postgres, pebble.
	Store       string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	PebblePath  string `env:"PEBBLE_PATH" envDefault:"data/relayer"`

	// RelayerAddress is the engine identity bound into sign-hashes.
	RelayerAddress string `env:"RELAYER_ADDRESS" envDefault:"0x0000000000000000000000000000000000000fff"`
	// GasBudget is the per-call gas reserve the relayer fronts.
	GasBudget uint64 `env:"RELAYER_GAS_BUDGET" envDefault:"2000000"`
	// BlockBound caps how far ahead a nonce's block component may point.
	BlockBound uint64 `env:"BLOCK_BOUND" envDefault:"10000"`

	// SecurityPeriod delays limit changes, whitelist activations and
	// pending transfers; SecurityWindow is how long an unlocked pending
	// transfer stays executable.
	SecurityPeriod time.Duration `env:"SECURITY_PERIOD" envDefault:"24h"`
	SecurityWindow time.Duration `env:"SECURITY_WINDOW" envDefault:"24h"`

	// DefaultDailyLimit funds new wallets with an initial cap, in wei.
	DefaultDailyLimit string `env:"DEFAULT_DAILY_LIMIT" envDefault:"1000000000000000000"`

	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`
	CMCAPIKey      string `env:"CMC_API_KEY"`
	// CMCTokenSymbols maps token contract addresses to CMC ticker
	// symbols, as addr:SYMBOL pairs.
	CMCTokenSymbols map[string]string `env:"CMC_TOKEN_SYMBOLS"`

	RateLimitPerSecond int `env:"RATE_LIMIT_RPS" envDefault:"25"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"50"`
}

// Load reads .env (when present) and parses the configuration.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if !IsValidStage(cfg.Stage) {
		return Config{}, fmt.Errorf("invalid STAGE %q: must be one of %s, %s, %s",
			cfg.Stage, StageProd, StageDev, StageLocal)
	}
	if cfg.Stage == StageProd && cfg.AdminJWTSecret == "" {
		return Config{}, fmt.Errorf("ADMIN_JWT_SECRET is required in prod")
	}
	if _, ok := new(big.Int).SetString(cfg.DefaultDailyLimit, 10); !ok {
		return Config{}, fmt.Errorf("invalid DEFAULT_DAILY_LIMIT %q", cfg.DefaultDailyLimit)
	}
	return cfg, nil
}

// IsValidStage reports whether stage names a known deployment stage.
func IsValidStage(stage string) bool {
	return stage == StageProd || stage == StageDev || stage == StageLocal
}

// DefaultLimit returns the parsed default daily limit.
func (c Config) DefaultLimit() *big.Int {
	limit, _ := new(big.Int).SetString(c.DefaultDailyLimit, 10)
	return limit
}

// TokenSymbols returns the CMC symbol table keyed by token address.
func (c Config) TokenSymbols() map[common.Address]string {
	table := make(map[common.Address]string, len(c.CMCTokenSymbols))
	for addr, symbol := range c.CMCTokenSymbols {
		table[common.HexToAddress(addr)] = symbol
	}
	return table
}
