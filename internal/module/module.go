// Package module defines the collaborator contract the relay engine
// executes against: a module classifies the signatures an operation
// requires, then performs it as the wallet. The relay engine itself is
// never registered here, which makes self-relay structurally unreachable.
package module

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// Module is an authorized extension executing on behalf of a wallet.
type Module interface {
	// Name identifies the module in logs and API responses.
	Name() string
	// Address is the module's on-chain identity; relay requests target it.
	Address() common.Address
	// RequiredSignatures classifies the given call data: how many
	// signatures it needs and whose. Pure; called before authorization.
	RequiredSignatures(ctx context.Context, walletAddr common.Address, data []byte) (int, wallet.Policy, error)
	// Execute performs the operation as the wallet, consuming gas from
	// the meter. The returned bytes are the inner call's return data.
	Execute(ctx context.Context, walletAddr common.Address, data []byte, meter *chain.Meter) ([]byte, error)
}

// Registry maps module addresses to implementations.
type Registry struct {
	mu      sync.RWMutex
	modules map[common.Address]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[common.Address]Module)}
}

// Register adds a module; later registrations at the same address win.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Address()] = m
}

// Get looks up a module by address.
func (r *Registry) Get(addr common.Address) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[addr]
	return m, ok
}

// List returns the registered modules.
func (r *Registry) List() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	return out
}
