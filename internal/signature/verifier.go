package signature

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// Length is the size of a single encoded signature: r (32) || s (32) || v (1).
const Length = 65

var (
	// ErrInvalidBlob is returned when the blob is not a whole number of
	// 65-byte signatures, or is empty under a policy that demands signers.
	ErrInvalidBlob = errors.New("invalid signature blob")
	// ErrNotOwner is returned when the first signer must be the owner and
	// is not.
	ErrNotOwner = errors.New("first signer is not the wallet owner")
	// ErrBadSignerOrder is returned when recovered addresses are not
	// strictly increasing, which also catches duplicate signers.
	ErrBadSignerOrder = errors.New("signers out of order or duplicated")
	// ErrNotGuardian is returned when a signer is not a current guardian.
	ErrNotGuardian = errors.New("signer is not a guardian")
)

// GuardianReader is the read-only guardian storage collaborator.
type GuardianReader interface {
	GetGuardians(ctx context.Context, walletAddr common.Address) ([]common.Address, error)
}

// Recover extracts the signer address from a 65-byte signature over hash.
// The recovery byte may be 0/1 or the conventional 27/28.
func Recover(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != Length {
		return common.Address{}, ErrInvalidBlob
	}
	normalized := make([]byte, Length)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[64])
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks a concatenated signature blob against the policy:
// recovered addresses must be strictly increasing past the first signer,
// the first signer must (or may) be the owner per the policy, and every
// other signer must be a current guardian of the wallet. Guardians are
// fetched lazily, only when some signer actually needs the membership
// check. A failure leaves no state behind; callers reject the whole
// relayed action.
func Verify(ctx context.Context, hash common.Hash, blob []byte, policy wallet.Policy, walletAddr, owner common.Address, guardians GuardianReader) error {
	if len(blob)%Length != 0 {
		return ErrInvalidBlob
	}
	count := len(blob) / Length
	if count == 0 {
		if policy == wallet.PolicyAnyone {
			return nil
		}
		return ErrInvalidBlob
	}

	var guardianSet []common.Address
	fetched := false
	isGuardian := func(addr common.Address) (bool, error) {
		if !fetched {
			var err error
			guardianSet, err = guardians.GetGuardians(ctx, walletAddr)
			if err != nil {
				return false, fmt.Errorf("fetch guardians: %w", err)
			}
			fetched = true
		}
		for _, g := range guardianSet {
			if g == addr {
				return true, nil
			}
		}
		return false, nil
	}

	var last common.Address
	for i := 0; i < count; i++ {
		signer, err := Recover(hash, blob[i*Length:(i+1)*Length])
		if err != nil {
			return err
		}

		if i == 0 {
			last = signer
			if policy == wallet.PolicyOwnerRequired {
				if signer != owner {
					return ErrNotOwner
				}
				continue
			}
			if policy == wallet.PolicyOwnerOptional && signer == owner {
				continue
			}
		} else {
			// Strictly increasing addresses enforce sorted order and
			// reject duplicates in one comparison.
			if bytes.Compare(signer.Bytes(), last.Bytes()) <= 0 {
				return ErrBadSignerOrder
			}
			last = signer
		}

		ok, err := isGuardian(signer)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotGuardian
		}
	}
	return nil
}
