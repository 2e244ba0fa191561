// Package transfers is the value-movement module: immediate transfers
// inside the daily limit or to whitelisted recipients, escrowed pending
// transfers for everything else, and the whitelist/limit admin
// operations. All operations are ABI-addressable and owner-signed except
// executePendingTransfer, which anyone may submit once the security delay
// has elapsed.
package transfers

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/limits"
	"github.com/cyphera/wallet-relayer/internal/module"
	"github.com/cyphera/wallet-relayer/internal/oracle"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// actionTransfer tags transfer-kind pending actions in their id hash.
const actionTransfer = 0

// Synthetic gas costs per operation branch.
const (
	gasTransfer = 40000
	gasEscrow   = 60000
	gasAdmin    = 25000
)

var (
	// ErrOutsideWindow is returned when a pending transfer is executed
	// before its delay elapses or after its confirmation window closes.
	ErrOutsideWindow = errors.New("outside of the execution window")
	// ErrUnknownPendingTransfer is returned for cancel/execute of an id
	// with no pending state.
	ErrUnknownPendingTransfer = errors.New("unknown pending transfer")
	// ErrDuplicatePendingTransfer is returned when an identical transfer
	// is already escrowed in the same block.
	ErrDuplicatePendingTransfer = errors.New("duplicate pending transfer")
	// ErrAlreadyWhitelisted is returned when adding a known recipient.
	ErrAlreadyWhitelisted = errors.New("recipient already whitelisted")
	// ErrNotWhitelisted is returned when removing an unknown recipient.
	ErrNotWhitelisted = errors.New("recipient not whitelisted")
)

// ABI methods of the module.
var (
	MethodTransferToken = module.NewMethod(
		"transferToken(address,address,address,uint256,bytes)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_token", Type: module.TypeAddress},
			{Name: "_to", Type: module.TypeAddress},
			{Name: "_amount", Type: module.TypeUint256},
			{Name: "_data", Type: module.TypeBytes},
		})
	MethodExecutePendingTransfer = module.NewMethod(
		"executePendingTransfer(address,address,address,uint256,bytes,uint256)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_token", Type: module.TypeAddress},
			{Name: "_to", Type: module.TypeAddress},
			{Name: "_amount", Type: module.TypeUint256},
			{Name: "_data", Type: module.TypeBytes},
			{Name: "_block", Type: module.TypeUint256},
		})
	MethodCancelPendingTransfer = module.NewMethod(
		"cancelPendingTransfer(address,bytes32)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_id", Type: module.TypeBytes32},
		})
	MethodAddToWhitelist = module.NewMethod(
		"addToWhitelist(address,address)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_target", Type: module.TypeAddress},
		})
	MethodRemoveFromWhitelist = module.NewMethod(
		"removeFromWhitelist(address,address)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_target", Type: module.TypeAddress},
		})
	MethodChangeLimit = module.NewMethod(
		"changeLimit(address,uint256)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_newLimit", Type: module.TypeUint256},
		})
	MethodDisableLimit = module.NewMethod(
		"disableLimit(address)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
		})
)

// Manager implements the transfer module.
type Manager struct {
	address        common.Address
	store          storage.Store
	limits         *limits.Tracker
	env            chain.Env
	events         *events.Log
	oracle         oracle.PriceOracle
	securityPeriod time.Duration
	securityWindow time.Duration
	logger         *zap.Logger
}

// NewManager creates the transfer module. securityPeriod is the escrow
// and whitelist-activation delay; securityWindow is how long an unlocked
// pending transfer stays executable.
func NewManager(address common.Address, store storage.Store, tracker *limits.Tracker, env chain.Env, eventLog *events.Log, priceOracle oracle.PriceOracle, securityPeriod, securityWindow time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		address:        address,
		store:          store,
		limits:         tracker,
		env:            env,
		events:         eventLog,
		oracle:         priceOracle,
		securityPeriod: securityPeriod,
		securityWindow: securityWindow,
		logger:         logger.Named("transfers"),
	}
}

func (m *Manager) Name() string            { return "TransferManager" }
func (m *Manager) Address() common.Address { return m.address }

// RequiredSignatures classifies call data. Executing an escrowed transfer
// is open to anyone once its delay has elapsed; every other operation is
// owner-signed.
func (m *Manager) RequiredSignatures(_ context.Context, _ common.Address, data []byte) (int, wallet.Policy, error) {
	switch {
	case MethodExecutePendingTransfer.Matches(data):
		return 0, wallet.PolicyAnyone, nil
	case MethodTransferToken.Matches(data),
		MethodCancelPendingTransfer.Matches(data),
		MethodAddToWhitelist.Matches(data),
		MethodRemoveFromWhitelist.Matches(data),
		MethodChangeLimit.Matches(data),
		MethodDisableLimit.Matches(data):
		return 1, wallet.PolicyOwnerRequired, nil
	default:
		return 0, 0, module.ErrUnknownSelector
	}
}

// Execute dispatches call data to the operation it encodes.
func (m *Manager) Execute(ctx context.Context, walletAddr common.Address, data []byte, meter *chain.Meter) ([]byte, error) {
	switch {
	case MethodTransferToken.Matches(data):
		meter.Use(gasTransfer)
		args, err := MethodTransferToken.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.TransferToken(ctx, walletAddr,
			args[1].(common.Address), args[2].(common.Address),
			args[3].(*big.Int), args[4].([]byte), meter)

	case MethodExecutePendingTransfer.Matches(data):
		meter.Use(gasTransfer)
		args, err := MethodExecutePendingTransfer.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.ExecutePendingTransfer(ctx, walletAddr,
			args[1].(common.Address), args[2].(common.Address),
			args[3].(*big.Int), args[4].([]byte), args[5].(*big.Int).Uint64())

	case MethodCancelPendingTransfer.Matches(data):
		meter.Use(gasAdmin)
		args, err := MethodCancelPendingTransfer.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.CancelPendingTransfer(ctx, walletAddr, common.Hash(args[1].([32]byte)))

	case MethodAddToWhitelist.Matches(data):
		meter.Use(gasAdmin)
		args, err := MethodAddToWhitelist.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.AddToWhitelist(ctx, walletAddr, args[1].(common.Address))

	case MethodRemoveFromWhitelist.Matches(data):
		meter.Use(gasAdmin)
		args, err := MethodRemoveFromWhitelist.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.RemoveFromWhitelist(ctx, walletAddr, args[1].(common.Address))

	case MethodChangeLimit.Matches(data):
		meter.Use(gasAdmin)
		args, err := MethodChangeLimit.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.limits.ChangeLimit(ctx, walletAddr, args[1].(*big.Int))

	case MethodDisableLimit.Matches(data):
		meter.Use(gasAdmin)
		if _, err := MethodDisableLimit.Unpack(data); err != nil {
			return nil, err
		}
		return nil, m.limits.DisableLimit(ctx, walletAddr)

	default:
		return nil, module.ErrUnknownSelector
	}
}

// TransferToken moves value out of the wallet. Whitelisted recipients and
// amounts inside the daily allowance transfer immediately; anything else
// is escrowed as a pending transfer behind the security delay.
func (m *Manager) TransferToken(ctx context.Context, walletAddr, token, to common.Address, amount *big.Int, data []byte, meter *chain.Meter) error {
	trusted, err := m.IsWhitelisted(ctx, walletAddr, to)
	if err != nil {
		return err
	}
	if trusted {
		return m.doTransfer(ctx, walletAddr, token, to, amount, data)
	}

	etherAmount, err := m.etherAmount(ctx, token, amount)
	if err != nil {
		return err
	}
	ok, err := m.limits.CheckAndUpdateDailySpent(ctx, walletAddr, etherAmount)
	if err != nil {
		return err
	}
	if ok {
		if err := m.doTransfer(ctx, walletAddr, token, to, amount, data); err != nil {
			// Nothing moved, so the debit comes back.
			if creditErr := m.limits.CreditDailySpent(ctx, walletAddr, etherAmount); creditErr != nil {
				m.logger.Error("failed to restore daily allowance",
					zap.String("wallet", walletAddr.Hex()),
					zap.Error(creditErr),
				)
			}
			return err
		}
		return nil
	}

	meter.Use(gasEscrow - gasTransfer)
	return m.addPendingTransfer(ctx, walletAddr, token, to, amount, data)
}

// ExecutePendingTransfer finalizes an escrowed transfer. It succeeds only
// inside [executeAfter, executeAfter+securityWindow); before or after
// that it rejects explicitly so callers can tell "too early" from
// "expired" by inspecting the stored timestamp. The escrow entry is
// cleared only once the funds have moved; a failed transfer stays
// executable for the rest of the window.
func (m *Manager) ExecutePendingTransfer(ctx context.Context, walletAddr, token, to common.Address, amount *big.Int, data []byte, block uint64) error {
	id := pendingTransferID(actionTransfer, token, to, amount, data, block)
	executeAfter, err := m.store.GetPendingTransfer(ctx, walletAddr, id)
	if err != nil {
		return err
	}
	if executeAfter == 0 {
		return ErrUnknownPendingTransfer
	}
	now := m.env.Now()
	if now < executeAfter || now >= executeAfter+int64(m.securityWindow/time.Second) {
		return ErrOutsideWindow
	}
	if err := m.env.Transfer(token, walletAddr, to, amount); err != nil {
		return err
	}
	if err := m.store.DeletePendingTransfer(ctx, walletAddr, id); err != nil {
		return err
	}
	m.events.Emit(events.TypePendingTransferExecuted, walletAddr, events.PendingTransfer{
		TransferID: id,
		Token:      token,
		To:         to,
		Amount:     (*hexutil.Big)(new(big.Int).Set(amount)),
	})
	return nil
}

// CancelPendingTransfer clears an escrowed transfer before execution.
func (m *Manager) CancelPendingTransfer(ctx context.Context, walletAddr common.Address, id common.Hash) error {
	executeAfter, err := m.store.GetPendingTransfer(ctx, walletAddr, id)
	if err != nil {
		return err
	}
	if executeAfter == 0 {
		return ErrUnknownPendingTransfer
	}
	if err := m.store.DeletePendingTransfer(ctx, walletAddr, id); err != nil {
		return err
	}
	m.events.Emit(events.TypePendingTransferCanceled, walletAddr, events.PendingTransfer{TransferID: id})
	return nil
}

// AddToWhitelist trusts a recipient after the security delay.
func (m *Manager) AddToWhitelist(ctx context.Context, walletAddr, target common.Address) error {
	after, err := m.store.GetWhitelistAfter(ctx, walletAddr, target)
	if err != nil {
		return err
	}
	if after != 0 {
		return ErrAlreadyWhitelisted
	}
	whitelistAfter := m.env.Now() + int64(m.securityPeriod/time.Second)
	if err := m.store.SetWhitelistAfter(ctx, walletAddr, target, whitelistAfter); err != nil {
		return err
	}
	m.events.Emit(events.TypeAddedToWhitelist, walletAddr, events.Whitelist{
		Target:         target,
		WhitelistAfter: whitelistAfter,
	})
	return nil
}

// RemoveFromWhitelist untrusts a recipient immediately.
func (m *Manager) RemoveFromWhitelist(ctx context.Context, walletAddr, target common.Address) error {
	after, err := m.store.GetWhitelistAfter(ctx, walletAddr, target)
	if err != nil {
		return err
	}
	if after == 0 {
		return ErrNotWhitelisted
	}
	if err := m.store.RemoveFromWhitelist(ctx, walletAddr, target); err != nil {
		return err
	}
	m.events.Emit(events.TypeRemovedFromWhitelist, walletAddr, events.Whitelist{Target: target})
	return nil
}

// IsWhitelisted reports whether target is trusted: added and past its
// activation delay.
func (m *Manager) IsWhitelisted(ctx context.Context, walletAddr, target common.Address) (bool, error) {
	after, err := m.store.GetWhitelistAfter(ctx, walletAddr, target)
	if err != nil {
		return false, err
	}
	return after != 0 && after <= m.env.Now(), nil
}

// PendingTransfers lists the wallet's escrowed transfers.
func (m *Manager) PendingTransfers(ctx context.Context, walletAddr common.Address) ([]wallet.PendingTransfer, error) {
	return m.store.ListPendingTransfers(ctx, walletAddr)
}

func (m *Manager) doTransfer(ctx context.Context, walletAddr, token, to common.Address, amount *big.Int, data []byte) error {
	if err := m.env.Transfer(token, walletAddr, to, amount); err != nil {
		return err
	}
	m.events.Emit(events.TypeTransfer, walletAddr, events.Transfer{
		Token:  token,
		To:     to,
		Amount: (*hexutil.Big)(new(big.Int).Set(amount)),
		Data:   data,
	})
	return nil
}

func (m *Manager) addPendingTransfer(ctx context.Context, walletAddr, token, to common.Address, amount *big.Int, data []byte) error {
	block := m.env.BlockNumber()
	id := pendingTransferID(actionTransfer, token, to, amount, data, block)
	existing, err := m.store.GetPendingTransfer(ctx, walletAddr, id)
	if err != nil {
		return err
	}
	if existing != 0 {
		return ErrDuplicatePendingTransfer
	}
	executeAfter := m.env.Now() + int64(m.securityPeriod/time.Second)
	if err := m.store.SetPendingTransfer(ctx, walletAddr, id, executeAfter); err != nil {
		return err
	}
	m.events.Emit(events.TypePendingTransferCreated, walletAddr, events.PendingTransfer{
		TransferID:   id,
		Token:        token,
		To:           to,
		Amount:       (*hexutil.Big)(new(big.Int).Set(amount)),
		ExecuteAfter: executeAfter,
	})
	m.logger.Info("transfer escrowed",
		zap.String("wallet", walletAddr.Hex()),
		zap.String("transfer_id", id.Hex()),
		zap.Int64("execute_after", executeAfter),
	)
	return nil
}

// etherAmount converts a token amount to wei for the limit check. Tokens
// the oracle cannot price count as zero ether value, matching assets the
// limit subsystem does not track.
func (m *Manager) etherAmount(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	value, err := oracle.EtherValue(ctx, m.oracle, amount, token)
	if errors.Is(err, oracle.ErrUnknownToken) {
		return new(big.Int), nil
	}
	return value, err
}

// pendingTransferID derives the escrow identity. The creation block
// number salts the hash so identical-looking transfers created at
// different times never collide.
func pendingTransferID(action uint8, token, to common.Address, amount *big.Int, data []byte, block uint64) common.Hash {
	packed := make([]byte, 0, 1+2*common.AddressLength+32+len(data)+32)
	packed = append(packed, action)
	packed = append(packed, token.Bytes()...)
	packed = append(packed, to.Bytes()...)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(amount))...)
	packed = append(packed, data...)
	packed = append(packed, math.U256Bytes(new(big.Int).SetUint64(block))...)
	return crypto.Keccak256Hash(packed)
}

// PendingTransferID exposes the escrow id derivation to clients that need
// to execute or cancel a transfer they observed being created.
func PendingTransferID(token, to common.Address, amount *big.Int, data []byte, block uint64) common.Hash {
	return pendingTransferID(actionTransfer, token, to, amount, data, block)
}

var _ module.Module = (*Manager)(nil)
