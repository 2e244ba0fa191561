package module

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SelectorLength is the size of the 4-byte method selector prefix.
const SelectorLength = 4

// walletArgOffset locates the 32-byte wallet-address word that every
// module operation carries as its first argument.
const walletArgOffset = SelectorLength + 32

var (
	// ErrShortData is returned when call data cannot hold a selector and
	// the leading wallet argument.
	ErrShortData = errors.New("call data too short")
	// ErrUnknownSelector is returned when no operation matches the data.
	ErrUnknownSelector = errors.New("unknown method selector")
)

// Shared ABI types for method argument lists.
var (
	TypeAddress = mustType("address")
	TypeUint256 = mustType("uint256")
	TypeBytes   = mustType("bytes")
	TypeBytes32 = mustType("bytes32")
)

func mustType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Method is an ABI-addressable module operation.
type Method struct {
	Name string
	ID   [SelectorLength]byte
	Args abi.Arguments
}

// NewMethod derives the selector from the canonical signature string and
// binds the argument list used for packing and unpacking.
func NewMethod(signature string, args abi.Arguments) Method {
	var id [SelectorLength]byte
	copy(id[:], crypto.Keccak256([]byte(signature))[:SelectorLength])
	name := signature
	for i := range signature {
		if signature[i] == '(' {
			name = signature[:i]
			break
		}
	}
	return Method{Name: name, ID: id, Args: args}
}

// Pack encodes a call to the method: selector followed by ABI-encoded
// arguments.
func (m Method) Pack(args ...interface{}) ([]byte, error) {
	encoded, err := m.Args.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.Name, err)
	}
	return append(m.ID[:], encoded...), nil
}

// Matches reports whether data targets this method.
func (m Method) Matches(data []byte) bool {
	return len(data) >= SelectorLength && [SelectorLength]byte(data[:SelectorLength]) == m.ID
}

// Unpack decodes the arguments of a call to this method.
func (m Method) Unpack(data []byte) ([]interface{}, error) {
	if !m.Matches(data) {
		return nil, ErrUnknownSelector
	}
	values, err := m.Args.Unpack(data[SelectorLength:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", m.Name, err)
	}
	return values, nil
}

// WalletArg extracts the wallet address from the leading argument word of
// module call data.
func WalletArg(data []byte) (common.Address, error) {
	if len(data) < walletArgOffset {
		return common.Address{}, ErrShortData
	}
	return common.BytesToAddress(data[SelectorLength:walletArgOffset]), nil
}
