package chain

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// Simulator is a deterministic in-process Env. Time and block height only
// move when advanced explicitly, which is what the escrow-window and
// limit-rollover tests need.
type Simulator struct {
	mu       sync.RWMutex
	block    uint64
	now      int64
	balances map[common.Address]map[common.Address]*big.Int
	decimals map[common.Address]uint8
}

// NewSimulator creates a simulator starting at the given block and time.
func NewSimulator(block uint64, now time.Time) *Simulator {
	return &Simulator{
		block:    block,
		now:      now.Unix(),
		balances: make(map[common.Address]map[common.Address]*big.Int),
		decimals: make(map[common.Address]uint8),
	}
}

func (s *Simulator) BlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block
}

func (s *Simulator) Now() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// AdvanceTime moves the clock forward and mines one block per 12 seconds
// elapsed so block-bound checks stay roughly consistent with time.
func (s *Simulator) AdvanceTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += int64(d / time.Second)
	s.block += uint64(d / (12 * time.Second))
}

// AdvanceBlocks mines n blocks.
func (s *Simulator) AdvanceBlocks(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block += n
}

// RegisterToken declares a token's decimal count. ETH is implicit.
func (s *Simulator) RegisterToken(token common.Address, decimals uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decimals[token] = decimals
}

// Mint credits a holder, for funding wallets in tests and local mode.
func (s *Simulator) Mint(token, holder common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(token, holder, amount)
}

func (s *Simulator) BalanceOf(token, holder common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[token][holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (s *Simulator) Transfer(token, from, to common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.Sign() == 0 {
		return nil
	}
	balance, ok := s.balances[token][from]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	s.credit(token, to, amount)
	return nil
}

func (s *Simulator) TokenDecimals(token common.Address) uint8 {
	if token == wallet.ETHToken {
		return 18
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.decimals[token]; ok {
		return d
	}
	return 18
}

func (s *Simulator) credit(token, holder common.Address, amount *big.Int) {
	if s.balances[token] == nil {
		s.balances[token] = make(map[common.Address]*big.Int)
	}
	if s.balances[token][holder] == nil {
		s.balances[token][holder] = new(big.Int)
	}
	s.balances[token][holder].Add(s.balances[token][holder], amount)
}
