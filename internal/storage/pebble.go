package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// Key prefixes partition the pebble keyspace per concern. Every key is
// prefix || wallet address, optionally followed by a hash or address.
const (
	prefixWallet    = "w:"
	prefixGuardians = "g:"
	prefixNonce     = "n:"
	prefixUsedHash  = "h:"
	prefixLimit     = "l:"
	prefixSpent     = "d:"
	prefixPending   = "p:"
	prefixWhitelist = "t:"
)

// PebbleStore is an embedded single-node Store for relayers that run
// without Postgres.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

// NewPebbleStore opens (or creates) a pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 * 1024 * 1024), // 64MB
		MemTableSize: 32 * 1024 * 1024,                  // 32MB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func key(prefix string, addr common.Address, rest ...[]byte) []byte {
	k := append([]byte(prefix), addr.Bytes()...)
	for _, r := range rest {
		k = append(k, r...)
	}
	return k
}

func (s *PebbleStore) get(k []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(k)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *PebbleStore) putJSON(k []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(k, raw, pebble.Sync)
}

func (s *PebbleStore) CreateWallet(_ context.Context, w wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(prefixWallet, w.Address)
	if _, found, err := s.get(k); err != nil {
		return err
	} else if found {
		return ErrWalletExists
	}
	return s.putJSON(k, w)
}

func (s *PebbleStore) GetWallet(_ context.Context, addr common.Address) (wallet.Wallet, error) {
	raw, found, err := s.get(key(prefixWallet, addr))
	if err != nil {
		return wallet.Wallet{}, err
	}
	if !found {
		return wallet.Wallet{}, ErrWalletNotFound
	}
	var w wallet.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return wallet.Wallet{}, fmt.Errorf("decode wallet record: %w", err)
	}
	return w, nil
}

func (s *PebbleStore) SetLocked(ctx context.Context, addr common.Address, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.GetWallet(ctx, addr)
	if err != nil {
		return err
	}
	w.Locked = locked
	return s.putJSON(key(prefixWallet, addr), w)
}

func (s *PebbleStore) SetModuleAuthorization(ctx context.Context, addr, moduleAddr common.Address, authorized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.GetWallet(ctx, addr)
	if err != nil {
		return err
	}
	modules := make([]common.Address, 0, len(w.Modules)+1)
	for _, m := range w.Modules {
		if m != moduleAddr {
			modules = append(modules, m)
		}
	}
	if authorized {
		modules = append(modules, moduleAddr)
	}
	w.Modules = modules
	return s.putJSON(key(prefixWallet, addr), w)
}

func (s *PebbleStore) IsModuleAuthorized(ctx context.Context, addr, moduleAddr common.Address) (bool, error) {
	w, err := s.GetWallet(ctx, addr)
	if err != nil {
		return false, err
	}
	return w.HasModule(moduleAddr), nil
}

func (s *PebbleStore) GetGuardians(_ context.Context, addr common.Address) ([]common.Address, error) {
	raw, found, err := s.get(key(prefixGuardians, addr))
	if err != nil || !found {
		return nil, err
	}
	var guardians []common.Address
	if err := json.Unmarshal(raw, &guardians); err != nil {
		return nil, fmt.Errorf("decode guardians: %w", err)
	}
	return guardians, nil
}

func (s *PebbleStore) SetGuardians(_ context.Context, addr common.Address, guardians []common.Address) error {
	return s.putJSON(key(prefixGuardians, addr), guardians)
}

func (s *PebbleStore) GetNonce(_ context.Context, addr common.Address) (*big.Int, error) {
	raw, found, err := s.get(key(prefixNonce, addr))
	if err != nil {
		return nil, err
	}
	if !found {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(raw), nil
}

func (s *PebbleStore) SetNonce(_ context.Context, addr common.Address, nonce *big.Int) error {
	return s.db.Set(key(prefixNonce, addr), nonce.Bytes(), pebble.Sync)
}

func (s *PebbleStore) IsHashUsed(_ context.Context, addr common.Address, hash common.Hash) (bool, error) {
	_, found, err := s.get(key(prefixUsedHash, addr, hash.Bytes()))
	return found, err
}

func (s *PebbleStore) MarkHashUsed(_ context.Context, addr common.Address, hash common.Hash) error {
	return s.db.Set(key(prefixUsedHash, addr, hash.Bytes()), []byte{1}, pebble.Sync)
}

func (s *PebbleStore) GetLimit(_ context.Context, addr common.Address) (wallet.Limit, error) {
	raw, found, err := s.get(key(prefixLimit, addr))
	if err != nil || !found {
		return wallet.Limit{}, err
	}
	var limit pebbleLimit
	if err := json.Unmarshal(raw, &limit); err != nil {
		return wallet.Limit{}, fmt.Errorf("decode limit: %w", err)
	}
	return limit.toLimit(), nil
}

func (s *PebbleStore) SetLimit(_ context.Context, addr common.Address, limit wallet.Limit) error {
	return s.putJSON(key(prefixLimit, addr), fromLimit(limit))
}

func (s *PebbleStore) GetDailySpent(_ context.Context, addr common.Address) (wallet.DailySpent, error) {
	raw, found, err := s.get(key(prefixSpent, addr))
	if err != nil || !found {
		return wallet.DailySpent{}, err
	}
	var spent pebbleSpent
	if err := json.Unmarshal(raw, &spent); err != nil {
		return wallet.DailySpent{}, fmt.Errorf("decode daily spent: %w", err)
	}
	return spent.toSpent(), nil
}

func (s *PebbleStore) SetDailySpent(_ context.Context, addr common.Address, spent wallet.DailySpent) error {
	return s.putJSON(key(prefixSpent, addr), fromSpent(spent))
}

func (s *PebbleStore) GetPendingTransfer(_ context.Context, addr common.Address, id common.Hash) (int64, error) {
	raw, found, err := s.get(key(prefixPending, addr, id.Bytes()))
	if err != nil || !found {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (s *PebbleStore) SetPendingTransfer(_ context.Context, addr common.Address, id common.Hash, executeAfter int64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(executeAfter))
	return s.db.Set(key(prefixPending, addr, id.Bytes()), raw[:], pebble.Sync)
}

func (s *PebbleStore) DeletePendingTransfer(_ context.Context, addr common.Address, id common.Hash) error {
	return s.db.Delete(key(prefixPending, addr, id.Bytes()), pebble.Sync)
}

func (s *PebbleStore) ListPendingTransfers(_ context.Context, addr common.Address) ([]wallet.PendingTransfer, error) {
	lower := key(prefixPending, addr)
	upper := append(append([]byte{}, lower...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []wallet.PendingTransfer
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) != len(lower)+common.HashLength {
			continue
		}
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		out = append(out, wallet.PendingTransfer{
			ID:           common.BytesToHash(k[len(lower):]),
			ExecuteAfter: int64(binary.BigEndian.Uint64(value)),
		})
	}
	return out, iter.Error()
}

func (s *PebbleStore) GetWhitelistAfter(_ context.Context, addr, target common.Address) (int64, error) {
	raw, found, err := s.get(key(prefixWhitelist, addr, target.Bytes()))
	if err != nil || !found {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (s *PebbleStore) SetWhitelistAfter(_ context.Context, addr, target common.Address, after int64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(after))
	return s.db.Set(key(prefixWhitelist, addr, target.Bytes()), raw[:], pebble.Sync)
}

func (s *PebbleStore) RemoveFromWhitelist(_ context.Context, addr, target common.Address) error {
	return s.db.Delete(key(prefixWhitelist, addr, target.Bytes()), pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// JSON shapes with decimal-string big ints for durable encoding.

type pebbleLimit struct {
	Current     string `json:"current,omitempty"`
	Pending     string `json:"pending,omitempty"`
	ChangeAfter int64  `json:"change_after,omitempty"`
}

func fromLimit(l wallet.Limit) pebbleLimit {
	out := pebbleLimit{ChangeAfter: l.ChangeAfter}
	if l.Current != nil {
		out.Current = l.Current.String()
	}
	if l.Pending != nil {
		out.Pending = l.Pending.String()
	}
	return out
}

func (p pebbleLimit) toLimit() wallet.Limit {
	out := wallet.Limit{ChangeAfter: p.ChangeAfter}
	if p.Current != "" {
		out.Current, _ = new(big.Int).SetString(p.Current, 10)
	}
	if p.Pending != "" {
		out.Pending, _ = new(big.Int).SetString(p.Pending, 10)
	}
	return out
}

type pebbleSpent struct {
	AlreadySpent string `json:"already_spent,omitempty"`
	PeriodEnd    int64  `json:"period_end,omitempty"`
}

func fromSpent(d wallet.DailySpent) pebbleSpent {
	out := pebbleSpent{PeriodEnd: d.PeriodEnd}
	if d.AlreadySpent != nil {
		out.AlreadySpent = d.AlreadySpent.String()
	}
	return out
}

func (p pebbleSpent) toSpent() wallet.DailySpent {
	out := wallet.DailySpent{PeriodEnd: p.PeriodEnd}
	if p.AlreadySpent != "" {
		out.AlreadySpent, _ = new(big.Int).SetString(p.AlreadySpent, 10)
	}
	return out
}

var _ Store = (*PebbleStore)(nil)
