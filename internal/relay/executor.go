package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/module"
	"github.com/cyphera/wallet-relayer/internal/signature"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// Synthetic gas accounting for the relay envelope itself.
const (
	baseRelayGas = 21000
	dataByteGas  = 16
)

var (
	// ErrNotEnoughGas is returned when the relayer's budget cannot cover
	// the declared gas limit plus refund accounting.
	ErrNotEnoughGas = errors.New("not enough gas to cover the declared limit")
	// ErrWalletMismatch is returned when the wallet argument inside the
	// call data differs from the wallet declared on the request.
	ErrWalletMismatch = errors.New("call data wallet mismatch")
	// ErrModuleNotAuthorized is returned when the target is not an
	// authorized module of the wallet. The relay engine itself is never a
	// registered module, so self-relay always fails here.
	ErrModuleNotAuthorized = errors.New("module not authorized for wallet")
	// ErrWalletLocked is returned while the wallet is locked.
	ErrWalletLocked = errors.New("wallet is locked")
	// ErrNoAuthorization is returned when an operation declares neither
	// signers nor an open policy.
	ErrNoAuthorization = errors.New("operation requires no valid authorization")
	// ErrBadSignatureLength is returned when the blob length does not
	// match the required signature count exactly.
	ErrBadSignatureLength = errors.New("wrong signature blob length")
)

// Request is an inbound relayed action: a pre-signed module call
// submitted by a third-party relayer that fronts the execution fee.
type Request struct {
	Wallet        common.Address
	Module        common.Address
	Data          []byte
	Nonce         *big.Int
	Signatures    []byte
	GasPrice      *big.Int
	GasLimit      uint64
	RefundToken   common.Address
	RefundAddress common.Address
	// Relayer is the submitting party, the default refund recipient.
	Relayer common.Address
}

// Result is the outcome of a relayed action. Success reflects the inner
// module call only; authorization or refund failures surface as errors.
type Result struct {
	Success    bool
	ReturnData []byte
	SignHash   common.Hash
}

// Executor validates, executes, and refunds one relayed call at a time.
type Executor struct {
	address   common.Address
	store     storage.Store
	registry  *module.Registry
	guard     *ReplayGuard
	guardians signature.GuardianReader
	refund    *RefundAccountant
	env       chain.Env
	events    *events.Log
	gasBudget uint64
	logger    *zap.Logger
}

// NewExecutor creates the relay executor. address is the engine identity
// bound into every sign-hash; gasBudget is the relayer's per-call gas
// reserve.
func NewExecutor(address common.Address, store storage.Store, registry *module.Registry, guard *ReplayGuard, guardians signature.GuardianReader, refund *RefundAccountant, env chain.Env, eventLog *events.Log, gasBudget uint64, logger *zap.Logger) *Executor {
	return &Executor{
		address:   address,
		store:     store,
		registry:  registry,
		guard:     guard,
		guardians: guardians,
		refund:    refund,
		env:       env,
		events:    eventLog,
		gasBudget: gasBudget,
		logger:    logger.Named("relay"),
	}
}

// Address returns the engine identity used in sign-hashes.
func (e *Executor) Address() common.Address { return e.address }

// Execute runs one relayed call. Authorization, policy, signature, and
// refund-reservation checks all happen before the module is invoked, so
// a rejected relay has zero net side effects. Once the nonce or hash is
// consumed, an inner module failure does NOT fail the relay: the failure
// is captured, the refund is still paid, and the success flag is
// returned false. A failed action becomes billable, non-replayable
// information instead of a free retry vector.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	meter := chain.NewMeter(e.gasBudget)
	if meter.Remaining() < req.GasLimit {
		return Result{}, ErrNotEnoughGas
	}

	walletArg, err := module.WalletArg(req.Data)
	if err != nil {
		return Result{}, err
	}
	if walletArg != req.Wallet {
		return Result{}, ErrWalletMismatch
	}

	w, err := e.store.GetWallet(ctx, req.Wallet)
	if err != nil {
		return Result{}, err
	}
	if w.Locked {
		return Result{}, ErrWalletLocked
	}
	authorized, err := e.store.IsModuleAuthorized(ctx, req.Wallet, req.Module)
	if err != nil {
		return Result{}, err
	}
	target, registered := e.registry.Get(req.Module)
	if !authorized || !registered {
		return Result{}, ErrModuleNotAuthorized
	}

	requiredSigs, policy, err := target.RequiredSignatures(ctx, req.Wallet, req.Data)
	if err != nil {
		return Result{}, fmt.Errorf("classify operation: %w", err)
	}
	if requiredSigs == 0 && policy != wallet.PolicyAnyone {
		return Result{}, ErrNoAuthorization
	}
	if len(req.Signatures) != requiredSigs*signature.Length {
		return Result{}, ErrBadSignatureLength
	}

	signHash := signature.SignHash(e.address, req.Module, new(big.Int), req.Data,
		req.Nonce, req.GasPrice, req.GasLimit, req.RefundToken, req.RefundAddress)

	if err := signature.Verify(ctx, signHash, req.Signatures, policy, req.Wallet, w.Owner, e.guardians); err != nil {
		return Result{}, fmt.Errorf("invalid signatures: %w", err)
	}

	// The worst-case refund is escrowed before the module runs, so a
	// wallet that cannot afford its refund is rejected here with nothing
	// moved and no replay token consumed.
	reservation, err := e.refund.Reserve(ctx, req.Wallet, req.GasPrice, req.GasLimit,
		requiredSigs, policy, req.RefundToken, req.RefundAddress, req.Relayer)
	if err != nil {
		return Result{}, err
	}
	if err := e.guard.CheckAndConsume(ctx, req.Wallet, req.Nonce, signHash, requiredSigs, policy, e.env.BlockNumber()); err != nil {
		if cancelErr := e.refund.Cancel(ctx, reservation); cancelErr != nil {
			return Result{}, cancelErr
		}
		return Result{}, err
	}

	// The inner call result is captured, never propagated: the nonce is
	// already consumed and the relayer must still be refunded.
	meter.Use(baseRelayGas + uint64(len(req.Data))*dataByteGas)
	returnData, callErr := target.Execute(ctx, req.Wallet, req.Data, meter)
	success := callErr == nil
	if callErr != nil {
		returnData = []byte(callErr.Error())
		e.logger.Warn("inner module call failed",
			zap.String("wallet", req.Wallet.Hex()),
			zap.String("module", target.Name()),
			zap.Error(callErr),
		)
	}

	if err := e.refund.Settle(ctx, reservation, meter); err != nil {
		return Result{}, err
	}

	e.events.Emit(events.TypeTransactionExecuted, req.Wallet, events.TransactionExecuted{
		Success:    success,
		ReturnData: hexutil.Bytes(returnData),
		SignHash:   signHash,
	})
	e.logger.Info("relayed call executed",
		zap.String("wallet", req.Wallet.Hex()),
		zap.String("module", target.Name()),
		zap.Bool("success", success),
		zap.String("sign_hash", signHash.Hex()),
		zap.Uint64("gas_used", meter.Used()),
	)
	return Result{Success: success, ReturnData: returnData, SignHash: signHash}, nil
}
