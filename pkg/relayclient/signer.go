package relayclient

import (
	"crypto/ecdsa"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/cyphera/wallet-relayer/internal/signature"
)

// Signer wraps an ECDSA key used to authorize relayed calls.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner wraps an existing private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// GenerateSigner creates a fresh random key, useful in tests and demos.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return &Signer{key: key}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign produces a 65-byte recoverable signature over hash, with the
// recovery id in the Ethereum 27/28 convention.
func (s *Signer) Sign(hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign hash")
	}
	sig[64] += 27
	return sig, nil
}

// SignHash computes the engine's sign-hash for a relayed call. The
// engine binds its own identity, the target module, the call data, and
// all refund terms into the digest.
func SignHash(engine, module common.Address, data []byte, nonce, gasPrice *big.Int, gasLimit uint64, refundToken, refundAddress common.Address) common.Hash {
	return signature.SignHash(engine, module, new(big.Int), data, nonce, gasPrice, gasLimit, refundToken, refundAddress)
}

// SignAll produces the concatenated signature blob the engine expects:
// the owner first (when present), then guardians in ascending address
// order.
func SignAll(hash common.Hash, owner *Signer, guardians []*Signer) ([]byte, error) {
	ordered := make([]*Signer, len(guardians))
	copy(ordered, guardians)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].Address(), ordered[j].Address()
		return a.Cmp(b) < 0
	})
	if owner != nil {
		ordered = append([]*Signer{owner}, ordered...)
	}

	blob := make([]byte, 0, len(ordered)*signature.Length)
	for _, s := range ordered {
		sig, err := s.Sign(hash)
		if err != nil {
			return nil, err
		}
		blob = append(blob, sig...)
	}
	return blob, nil
}
