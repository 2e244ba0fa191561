// Package storage persists per-wallet relay and spending state. Wallet
// identity is an explicit parameter on every call; there is no hidden
// global map. Implementations: in-memory (tests, local stage), Postgres
// (pgx) and Pebble (embedded single-node deployments).
package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

var (
	// ErrWalletNotFound is returned when no record exists for the wallet.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when registering an already-known wallet.
	ErrWalletExists = errors.New("wallet already registered")
)

// Store is the per-wallet state collaborator consumed by the relay and
// limit engines. All reads return zero values (not errors) for state that
// simply has not been written yet, except wallet records themselves.
type Store interface {
	// Wallet registry.
	CreateWallet(ctx context.Context, w wallet.Wallet) error
	GetWallet(ctx context.Context, addr common.Address) (wallet.Wallet, error)
	SetLocked(ctx context.Context, addr common.Address, locked bool) error
	SetModuleAuthorization(ctx context.Context, addr, module common.Address, authorized bool) error
	IsModuleAuthorized(ctx context.Context, addr, module common.Address) (bool, error)

	// Guardians (read-mostly; writes happen through admin surfaces).
	GetGuardians(ctx context.Context, addr common.Address) ([]common.Address, error)
	SetGuardians(ctx context.Context, addr common.Address, guardians []common.Address) error

	// Replay state.
	GetNonce(ctx context.Context, addr common.Address) (*big.Int, error)
	SetNonce(ctx context.Context, addr common.Address, nonce *big.Int) error
	IsHashUsed(ctx context.Context, addr common.Address, hash common.Hash) (bool, error)
	MarkHashUsed(ctx context.Context, addr common.Address, hash common.Hash) error

	// Daily limit.
	GetLimit(ctx context.Context, addr common.Address) (wallet.Limit, error)
	SetLimit(ctx context.Context, addr common.Address, limit wallet.Limit) error
	GetDailySpent(ctx context.Context, addr common.Address) (wallet.DailySpent, error)
	SetDailySpent(ctx context.Context, addr common.Address, spent wallet.DailySpent) error

	// Pending transfers. A zero executeAfter means absent/cleared.
	GetPendingTransfer(ctx context.Context, addr common.Address, id common.Hash) (int64, error)
	SetPendingTransfer(ctx context.Context, addr common.Address, id common.Hash, executeAfter int64) error
	DeletePendingTransfer(ctx context.Context, addr common.Address, id common.Hash) error
	ListPendingTransfers(ctx context.Context, addr common.Address) ([]wallet.PendingTransfer, error)

	// Whitelist. A zero whitelistAfter means not whitelisted.
	GetWhitelistAfter(ctx context.Context, addr, target common.Address) (int64, error)
	SetWhitelistAfter(ctx context.Context, addr, target common.Address, after int64) error
	RemoveFromWhitelist(ctx context.Context, addr, target common.Address) error

	Close() error
}
