// Package approvals is the guardian co-signed spending module: transfers
// and arbitrary authorized calls approved by the owner plus a majority of
// guardians, which bypass the daily limit entirely. Multi-signer requests
// are replay-protected by the used-hash scheme, so independent approvals
// stay concurrently valid.
package approvals

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/guard"
	"github.com/cyphera/wallet-relayer/internal/module"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

const (
	gasTransfer = 40000
	gasCall     = 50000
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
	MethodCallContract = module.NewMethod(
		"callContract(address,address,uint256,bytes)",
		abi.Arguments{
			{Name: "_wallet", Type: module.TypeAddress},
			{Name: "_contract", Type: module.TypeAddress},
			{Name: "_value", Type: module.TypeUint256},
			{Name: "_data", Type: module.TypeBytes},
		})
)

// Module implements guardian-approved spending.
type Module struct {
	address   common.Address
	guardians *guard.Registry
	env       chain.Env
	events    *events.Log
	logger    *zap.Logger
}

// New creates the approvals module.
func New(address common.Address, guardians *guard.Registry, env chain.Env, eventLog *events.Log, logger *zap.Logger) *Module {
	return &Module{
		address:   address,
		guardians: guardians,
		env:       env,
		events:    eventLog,
		logger:    logger.Named("approvals"),
	}
}

func (m *Module) Name() string            { return "ApprovedTransfer" }
func (m *Module) Address() common.Address { return m.address }

// RequiredSignatures demands the owner plus a majority of the current
// guardian set for every operation.
func (m *Module) RequiredSignatures(ctx context.Context, walletAddr common.Address, data []byte) (int, wallet.Policy, error) {
	if !MethodTransferToken.Matches(data) && !MethodCallContract.Matches(data) {
		return 0, 0, module.ErrUnknownSelector
	}
	guardians, err := m.guardians.GetGuardians(ctx, walletAddr)
	if err != nil {
		return 0, 0, err
	}
	return guard.MajorityQuorum(len(guardians)), wallet.PolicyOwnerRequired, nil
}

// Execute dispatches call data to the operation it encodes.
func (m *Module) Execute(ctx context.Context, walletAddr common.Address, data []byte, meter *chain.Meter) ([]byte, error) {
	switch {
	case MethodTransferToken.Matches(data):
		meter.Use(gasTransfer)
		args, err := MethodTransferToken.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.transferToken(walletAddr,
			args[1].(common.Address), args[2].(common.Address),
			args[3].(*big.Int), args[4].([]byte))

	case MethodCallContract.Matches(data):
		meter.Use(gasCall)
		args, err := MethodCallContract.Unpack(data)
		if err != nil {
			return nil, err
		}
		return nil, m.callContract(walletAddr,
			args[1].(common.Address), args[2].(*big.Int), args[3].([]byte))

	default:
		return nil, module.ErrUnknownSelector
	}
}

// transferToken moves value immediately; guardian approval substitutes
// for the daily-limit check.
func (m *Module) transferToken(walletAddr, token, to common.Address, amount *big.Int, data []byte) error {
	if err := m.env.Transfer(token, walletAddr, to, amount); err != nil {
		return err
	}
	m.events.Emit(events.TypeApproved, walletAddr, events.Transfer{
		Token:  token,
		To:     to,
		Amount: (*hexutil.Big)(new(big.Int).Set(amount)),
		Data:   data,
	})
	return nil
}

// callContract invokes an arbitrary target with value attached.
func (m *Module) callContract(walletAddr, target common.Address, value *big.Int, data []byte) error {
	if value.Sign() > 0 {
		if err := m.env.Transfer(wallet.ETHToken, walletAddr, target, value); err != nil {
			return err
		}
	}
	m.events.Emit(events.TypeCalledContract, walletAddr, events.CalledContract{
		To:    target,
		Value: (*hexutil.Big)(new(big.Int).Set(value)),
		Data:  data,
	})
	return nil
}

var _ module.Module = (*Module)(nil)
