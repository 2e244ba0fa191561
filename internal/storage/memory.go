package storage

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and the
// local stage.
type MemoryStore struct {
	mu sync.RWMutex

	wallets   map[common.Address]wallet.Wallet
	guardians map[common.Address][]common.Address
	nonces    map[common.Address]*big.Int
	usedHash  map[common.Address]map[common.Hash]bool
	limits    map[common.Address]wallet.Limit
	spent     map[common.Address]wallet.DailySpent
	pending   map[common.Address]map[common.Hash]int64
	whitelist map[common.Address]map[common.Address]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[common.Address]wallet.Wallet),
		guardians: make(map[common.Address][]common.Address),
		nonces:    make(map[common.Address]*big.Int),
		usedHash:  make(map[common.Address]map[common.Hash]bool),
		limits:    make(map[common.Address]wallet.Limit),
		spent:     make(map[common.Address]wallet.DailySpent),
		pending:   make(map[common.Address]map[common.Hash]int64),
		whitelist: make(map[common.Address]map[common.Address]int64),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, w wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[w.Address]; ok {
		return ErrWalletExists
	}
	s.wallets[w.Address] = w
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, addr common.Address) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[addr]
	if !ok {
		return wallet.Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *MemoryStore) SetLocked(_ context.Context, addr common.Address, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[addr]
	if !ok {
		return ErrWalletNotFound
	}
	w.Locked = locked
	s.wallets[addr] = w
	return nil
}

func (s *MemoryStore) SetModuleAuthorization(_ context.Context, addr, module common.Address, authorized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[addr]
	if !ok {
		return ErrWalletNotFound
	}
	modules := make([]common.Address, 0, len(w.Modules)+1)
	for _, m := range w.Modules {
		if m != module {
			modules = append(modules, m)
		}
	}
	if authorized {
		modules = append(modules, module)
	}
	w.Modules = modules
	s.wallets[addr] = w
	return nil
}

func (s *MemoryStore) IsModuleAuthorized(_ context.Context, addr, module common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[addr]
	if !ok {
		return false, ErrWalletNotFound
	}
	return w.HasModule(module), nil
}

func (s *MemoryStore) GetGuardians(_ context.Context, addr common.Address) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guardians := s.guardians[addr]
	out := make([]common.Address, len(guardians))
	copy(out, guardians)
	return out, nil
}

func (s *MemoryStore) SetGuardians(_ context.Context, addr common.Address, guardians []common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Address, len(guardians))
	copy(out, guardians)
	s.guardians[addr] = out
	return nil
}

func (s *MemoryStore) GetNonce(_ context.Context, addr common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nonces[addr]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(n), nil
}

func (s *MemoryStore) SetNonce(_ context.Context, addr common.Address, nonce *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[addr] = new(big.Int).Set(nonce)
	return nil
}

func (s *MemoryStore) IsHashUsed(_ context.Context, addr common.Address, hash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedHash[addr][hash], nil
}

func (s *MemoryStore) MarkHashUsed(_ context.Context, addr common.Address, hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usedHash[addr] == nil {
		s.usedHash[addr] = make(map[common.Hash]bool)
	}
	s.usedHash[addr][hash] = true
	return nil
}

func (s *MemoryStore) GetLimit(_ context.Context, addr common.Address) (wallet.Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyLimit(s.limits[addr]), nil
}

func (s *MemoryStore) SetLimit(_ context.Context, addr common.Address, limit wallet.Limit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[addr] = copyLimit(limit)
	return nil
}

func (s *MemoryStore) GetDailySpent(_ context.Context, addr common.Address) (wallet.DailySpent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySpent(s.spent[addr]), nil
}

func (s *MemoryStore) SetDailySpent(_ context.Context, addr common.Address, spent wallet.DailySpent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spent[addr] = copySpent(spent)
	return nil
}

func (s *MemoryStore) GetPendingTransfer(_ context.Context, addr common.Address, id common.Hash) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[addr][id], nil
}

func (s *MemoryStore) SetPendingTransfer(_ context.Context, addr common.Address, id common.Hash, executeAfter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[addr] == nil {
		s.pending[addr] = make(map[common.Hash]int64)
	}
	s.pending[addr][id] = executeAfter
	return nil
}

func (s *MemoryStore) DeletePendingTransfer(_ context.Context, addr common.Address, id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending[addr], id)
	return nil
}

func (s *MemoryStore) ListPendingTransfers(_ context.Context, addr common.Address) ([]wallet.PendingTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wallet.PendingTransfer, 0, len(s.pending[addr]))
	for id, after := range s.pending[addr] {
		out = append(out, wallet.PendingTransfer{ID: id, ExecuteAfter: after})
	}
	return out, nil
}

func (s *MemoryStore) GetWhitelistAfter(_ context.Context, addr, target common.Address) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.whitelist[addr][target], nil
}

func (s *MemoryStore) SetWhitelistAfter(_ context.Context, addr, target common.Address, after int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.whitelist[addr] == nil {
		s.whitelist[addr] = make(map[common.Address]int64)
	}
	s.whitelist[addr][target] = after
	return nil
}

func (s *MemoryStore) RemoveFromWhitelist(_ context.Context, addr, target common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whitelist[addr], target)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyLimit(l wallet.Limit) wallet.Limit {
	out := wallet.Limit{ChangeAfter: l.ChangeAfter}
	if l.Current != nil {
		out.Current = new(big.Int).Set(l.Current)
	}
	if l.Pending != nil {
		out.Pending = new(big.Int).Set(l.Pending)
	}
	return out
}

func copySpent(d wallet.DailySpent) wallet.DailySpent {
	out := wallet.DailySpent{PeriodEnd: d.PeriodEnd}
	if d.AlreadySpent != nil {
		out.AlreadySpent = new(big.Int).Set(d.AlreadySpent)
	}
	return out
}
