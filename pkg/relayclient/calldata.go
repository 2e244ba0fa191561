package relayclient

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/cyphera/wallet-relayer/internal/approvals"
	"github.com/cyphera/wallet-relayer/internal/transfers"
)

// Call-data builders for the transfer-manager module.

// TransferTokenData encodes a direct (limit-checked) transfer.
func TransferTokenData(wallet, token, to common.Address, amount *big.Int, data []byte) ([]byte, error) {
	out, err := transfers.MethodTransferToken.Pack(wallet, token, to, amount, data)
	return out, errors.Wrap(err, "encode transferToken")
}

// ExecutePendingTransferData encodes the release of an escrowed transfer.
// block must be the block height at which the transfer was escrowed.
func ExecutePendingTransferData(wallet, token, to common.Address, amount *big.Int, data []byte, block uint64) ([]byte, error) {
	out, err := transfers.MethodExecutePendingTransfer.Pack(wallet, token, to, amount, data, new(big.Int).SetUint64(block))
	return out, errors.Wrap(err, "encode executePendingTransfer")
}

// CancelPendingTransferData encodes the cancellation of an escrowed transfer.
func CancelPendingTransferData(wallet common.Address, id common.Hash) ([]byte, error) {
	out, err := transfers.MethodCancelPendingTransfer.Pack(wallet, id)
	return out, errors.Wrap(err, "encode cancelPendingTransfer")
}

// AddToWhitelistData encodes a whitelist addition.
func AddToWhitelistData(wallet, target common.Address) ([]byte, error) {
	out, err := transfers.MethodAddToWhitelist.Pack(wallet, target)
	return out, errors.Wrap(err, "encode addToWhitelist")
}

// RemoveFromWhitelistData encodes a whitelist removal.
func RemoveFromWhitelistData(wallet, target common.Address) ([]byte, error) {
	out, err := transfers.MethodRemoveFromWhitelist.Pack(wallet, target)
	return out, errors.Wrap(err, "encode removeFromWhitelist")
}

// ChangeLimitData encodes a deferred daily-limit change.
func ChangeLimitData(wallet common.Address, newLimit *big.Int) ([]byte, error) {
	out, err := transfers.MethodChangeLimit.Pack(wallet, newLimit)
	return out, errors.Wrap(err, "encode changeLimit")
}

// DisableLimitData encodes a deferred limit disable.
func DisableLimitData(wallet common.Address) ([]byte, error) {
	out, err := transfers.MethodDisableLimit.Pack(wallet)
	return out, errors.Wrap(err, "encode disableLimit")
}

// PendingTransferID computes the escrow id for a transfer escrowed at
// block, matching the engine's derivation.
func PendingTransferID(token, to common.Address, amount *big.Int, data []byte, block uint64) common.Hash {
	return transfers.PendingTransferID(token, to, amount, data, block)
}

// Call-data builders for the guardian-approved module.

// ApprovedTransferData encodes a guardian co-signed transfer that
// bypasses the daily limit.
func ApprovedTransferData(wallet, token, to common.Address, amount *big.Int, data []byte) ([]byte, error) {
	out, err := approvals.MethodTransferToken.Pack(wallet, token, to, amount, data)
	return out, errors.Wrap(err, "encode approved transferToken")
}

// CallContractData encodes a guardian co-signed contract call.
func CallContractData(wallet, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	out, err := approvals.MethodCallContract.Pack(wallet, target, value, data)
	return out, errors.Wrap(err, "encode callContract")
}
