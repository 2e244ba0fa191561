package module

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// fakeModule is a minimal Module for registry tests.
type fakeModule struct {
	addr common.Address
}

func (f fakeModule) Name() string            { return "fake" }
func (f fakeModule) Address() common.Address { return f.addr }
func (f fakeModule) RequiredSignatures(context.Context, common.Address, []byte) (int, wallet.Policy, error) {
	return 1, wallet.PolicyOwnerRequired, nil
}
func (f fakeModule) Execute(context.Context, common.Address, []byte, *chain.Meter) ([]byte, error) {
	return nil, nil
}

var testMethod = NewMethod(
	"transferToken(address,address,address,uint256,bytes)",
	abi.Arguments{
		{Name: "_wallet", Type: TypeAddress},
		{Name: "_token", Type: TypeAddress},
		{Name: "_to", Type: TypeAddress},
		{Name: "_amount", Type: TypeUint256},
		{Name: "_data", Type: TypeBytes},
	})

func TestNewMethodSelector(t *testing.T) {
	assert.Equal(t, "transferToken", testMethod.Name)

	want := crypto.Keccak256([]byte("transferToken(address,address,address,uint256,bytes)"))[:SelectorLength]
	assert.Equal(t, want, testMethod.ID[:])
}

func TestPackUnpackRoundTrip(t *testing.T) {
	walletAddr := common.HexToAddress("0x1234")
	token := common.HexToAddress("0x5678")
	to := common.HexToAddress("0x9abc")
	amount := big.NewInt(42)
	payload := []byte{0x01, 0x02}

	data, err := testMethod.Pack(walletAddr, token, to, amount, payload)
	require.NoError(t, err)
	assert.True(t, testMethod.Matches(data))

	args, err := testMethod.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, walletAddr, args[0].(common.Address))
	assert.Equal(t, token, args[1].(common.Address))
	assert.Equal(t, to, args[2].(common.Address))
	assert.Zero(t, amount.Cmp(args[3].(*big.Int)))
	assert.Equal(t, payload, args[4].([]byte))
}

func TestMatchesRejectsOtherSelectors(t *testing.T) {
	assert.False(t, testMethod.Matches([]byte{0xde, 0xad, 0xbe, 0xef}))
	assert.False(t, testMethod.Matches(nil))

	_, err := testMethod.Unpack([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrUnknownSelector)
}

func TestWalletArg(t *testing.T) {
	walletAddr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	data, err := testMethod.Pack(walletAddr, common.Address{}, common.Address{}, new(big.Int), []byte{})
	require.NoError(t, err)

	got, err := WalletArg(data)
	require.NoError(t, err)
	assert.Equal(t, walletAddr, got)

	_, err = WalletArg([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrShortData)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	assert.Empty(t, registry.List())

	mod := fakeModule{addr: common.HexToAddress("0x1001")}
	registry.Register(mod)

	got, ok := registry.Get(mod.addr)
	require.True(t, ok)
	assert.Equal(t, mod.addr, got.Address())

	_, ok = registry.Get(common.HexToAddress("0x9999"))
	assert.False(t, ok)
	assert.Len(t, registry.List(), 1)
}
