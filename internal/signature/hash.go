// Package signature builds the canonical sign-hash relayed requests are
// signed over and verifies concatenated signature blobs against the
// owner/guardian quorum an operation requires.
package signature

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ethSignedMessagePrefix is the EIP-191 personal-sign wrapper for a
// 32-byte payload. It domain-separates sign-hashes from raw transaction
// hashes so a relay signature can never be replayed as a transaction.
const ethSignedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// SignHash computes the canonical hash signers commit to. It binds the
// relayer engine identity, the target module, the call value and data,
// the nonce, and every refund parameter, then applies the
// Ethereum-signed-message wrapper.
func SignHash(relayer, module common.Address, value *big.Int, data []byte, nonce, gasPrice *big.Int, gasLimit uint64, refundToken, refundAddress common.Address) common.Hash {
	packed := make([]byte, 0, 2+3*common.AddressLength+4*32+len(data)+common.AddressLength)
	packed = append(packed, 0x19, 0x00)
	packed = append(packed, relayer.Bytes()...)
	packed = append(packed, module.Bytes()...)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(value))...)
	packed = append(packed, data...)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(nonce))...)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(gasPrice))...)
	packed = append(packed, math.U256Bytes(new(big.Int).SetUint64(gasLimit))...)
	packed = append(packed, refundToken.Bytes()...)
	packed = append(packed, refundAddress.Bytes()...)

	message := crypto.Keccak256(packed)
	return crypto.Keccak256Hash([]byte(ethSignedMessagePrefix), message)
}
