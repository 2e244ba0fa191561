// Package guard exposes the guardian set of a wallet to the signature
// and approval engines. Guardian lifecycle (add/remove with its own
// security delays) is managed by an external collaborator; this registry
// only reads and, for admin surfaces, replaces the set wholesale.
package guard

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/storage"
)

// Registry reads guardian sets from the wallet state store.
type Registry struct {
	store storage.Store
}

// NewRegistry creates a guardian registry over the given store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// GetGuardians returns the current guardian set of the wallet.
func (r *Registry) GetGuardians(ctx context.Context, walletAddr common.Address) ([]common.Address, error) {
	return r.store.GetGuardians(ctx, walletAddr)
}

// IsGuardian reports whether addr is currently a guardian of the wallet.
func (r *Registry) IsGuardian(ctx context.Context, walletAddr, addr common.Address) (bool, error) {
	guardians, err := r.store.GetGuardians(ctx, walletAddr)
	if err != nil {
		return false, err
	}
	for _, g := range guardians {
		if g == addr {
			return true, nil
		}
	}
	return false, nil
}

// SetGuardians replaces the guardian set (admin surface).
func (r *Registry) SetGuardians(ctx context.Context, walletAddr common.Address, guardians []common.Address) error {
	return r.store.SetGuardians(ctx, walletAddr, guardians)
}

// MajorityQuorum returns the signature count for an owner-plus-majority
// approval over n guardians: 1 + ceil(n/2).
func MajorityQuorum(n int) int {
	return 1 + (n+1)/2
}
