package signature

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

type staticGuardians struct {
	guardians []common.Address
}

func (s staticGuardians) GetGuardians(_ context.Context, _ common.Address) ([]common.Address, error) {
	return s.guardians, nil
}

// newSortedKeys generates n keys sorted by ascending address.
func newSortedKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
	}
	sort.Slice(keys, func(i, j int) bool {
		a := crypto.PubkeyToAddress(keys[i].PublicKey)
		b := crypto.PubkeyToAddress(keys[j].PublicKey)
		return a.Cmp(b) < 0
	})
	return keys
}

func addr(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func sign(t *testing.T, hash common.Hash, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func TestSignHashDeterministic(t *testing.T) {
	relayer := common.HexToAddress("0x0fff")
	module := common.HexToAddress("0x1001")
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	h1 := SignHash(relayer, module, new(big.Int), data, big.NewInt(1), big.NewInt(5), 100000, common.Address{}, common.Address{})
	h2 := SignHash(relayer, module, new(big.Int), data, big.NewInt(1), big.NewInt(5), 100000, common.Address{}, common.Address{})
	assert.Equal(t, h1, h2)

	h3 := SignHash(relayer, module, new(big.Int), data, big.NewInt(2), big.NewInt(5), 100000, common.Address{}, common.Address{})
	assert.NotEqual(t, h1, h3, "different nonce must change the hash")

	h4 := SignHash(relayer, module, new(big.Int), data, big.NewInt(1), big.NewInt(5), 100000, common.HexToAddress("0xaa"), common.Address{})
	assert.NotEqual(t, h1, h4, "refund token is part of the signed payload")
}

func TestRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256Hash([]byte("payload"))

	raw, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)

	t.Run("raw recovery id", func(t *testing.T) {
		got, err := Recover(hash, raw)
		require.NoError(t, err)
		assert.Equal(t, addr(key), got)
	})

	t.Run("27/28 convention", func(t *testing.T) {
		conv := make([]byte, len(raw))
		copy(conv, raw)
		conv[64] += 27
		got, err := Recover(hash, conv)
		require.NoError(t, err)
		assert.Equal(t, addr(key), got)
	})

	t.Run("bad recovery id", func(t *testing.T) {
		bad := make([]byte, len(raw))
		copy(bad, raw)
		bad[64] = 9
		_, err := Recover(hash, bad)
		assert.Error(t, err)
	})

	t.Run("short signature", func(t *testing.T) {
		_, err := Recover(hash, raw[:64])
		assert.ErrorIs(t, err, ErrInvalidBlob)
	})
}

func TestVerify(t *testing.T) {
	keys := newSortedKeys(t, 4)
	owner := keys[0]
	g1, g2 := keys[1], keys[2]
	outsider := keys[3]

	walletAddr := common.HexToAddress("0x1234")
	hash := crypto.Keccak256Hash([]byte("relay request"))
	reader := staticGuardians{guardians: []common.Address{addr(g1), addr(g2)}}

	tests := []struct {
		name    string
		blob    []byte
		policy  wallet.Policy
		wantErr error
	}{
		{
			name:   "owner required, owner signs",
			blob:   sign(t, hash, owner),
			policy: wallet.PolicyOwnerRequired,
		},
		{
			name:    "owner required, guardian signs first",
			blob:    sign(t, hash, g1),
			policy:  wallet.PolicyOwnerRequired,
			wantErr: ErrNotOwner,
		},
		{
			name:   "owner plus sorted guardians",
			blob:   append(append(sign(t, hash, owner), sign(t, hash, g1)...), sign(t, hash, g2)...),
			policy: wallet.PolicyOwnerRequired,
		},
		{
			name:    "guardians out of order",
			blob:    append(append(sign(t, hash, owner), sign(t, hash, g2)...), sign(t, hash, g1)...),
			policy:  wallet.PolicyOwnerRequired,
			wantErr: ErrBadSignerOrder,
		},
		{
			name:    "duplicate guardian",
			blob:    append(append(sign(t, hash, owner), sign(t, hash, g1)...), sign(t, hash, g1)...),
			policy:  wallet.PolicyOwnerRequired,
			wantErr: ErrBadSignerOrder,
		},
		{
			name:    "non-guardian co-signer",
			blob:    append(sign(t, hash, owner), sign(t, hash, outsider)...),
			policy:  wallet.PolicyOwnerRequired,
			wantErr: ErrNotGuardian,
		},
		{
			name:   "owner optional, guardian only",
			blob:   sign(t, hash, g1),
			policy: wallet.PolicyOwnerOptional,
		},
		{
			name:   "owner optional, owner only",
			blob:   sign(t, hash, owner),
			policy: wallet.PolicyOwnerOptional,
		},
		{
			name:   "anyone with zero signatures",
			blob:   nil,
			policy: wallet.PolicyAnyone,
		},
		{
			name:    "owner required with zero signatures",
			blob:    nil,
			policy:  wallet.PolicyOwnerRequired,
			wantErr: ErrInvalidBlob,
		},
		{
			name:    "truncated blob",
			blob:    sign(t, hash, owner)[:40],
			policy:  wallet.PolicyOwnerRequired,
			wantErr: ErrInvalidBlob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(context.Background(), hash, tt.blob, tt.policy, walletAddr, addr(owner), reader)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifySignatureOverDifferentHashRejected(t *testing.T) {
	keys := newSortedKeys(t, 1)
	owner := keys[0]
	hash := crypto.Keccak256Hash([]byte("intended"))
	other := crypto.Keccak256Hash([]byte("tampered"))

	blob := sign(t, other, owner)
	err := Verify(context.Background(), hash, blob, wallet.PolicyOwnerRequired,
		common.HexToAddress("0x1234"), addr(owner), staticGuardians{})
	assert.ErrorIs(t, err, ErrNotOwner, "a signature over a different payload recovers a different signer")
}
