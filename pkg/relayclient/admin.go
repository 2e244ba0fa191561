package relayclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// RegisterWalletParams provisions a wallet on the engine.
type RegisterWalletParams struct {
	Address    common.Address
	Owner      common.Address
	Guardians  []common.Address
	Funding    *big.Int
	DailyLimit *big.Int
}

type registerWalletRequest struct {
	Address    common.Address   `json:"address"`
	Owner      common.Address   `json:"owner"`
	Guardians  []common.Address `json:"guardians,omitempty"`
	Funding    *hexutil.Big     `json:"funding,omitempty"`
	DailyLimit *hexutil.Big     `json:"daily_limit,omitempty"`
}

// RegisteredWallet echoes a provisioned wallet.
type RegisteredWallet struct {
	Address   common.Address   `json:"address"`
	Owner     common.Address   `json:"owner"`
	Modules   []common.Address `json:"modules"`
	Guardians []common.Address `json:"guardians"`
	Limit     *hexutil.Big     `json:"limit"`
}

// RegisterWallet provisions a wallet. Requires an admin token.
func (c *Client) RegisterWallet(ctx context.Context, params RegisterWalletParams) (*RegisteredWallet, error) {
	req := registerWalletRequest{
		Address:    params.Address,
		Owner:      params.Owner,
		Guardians:  params.Guardians,
		Funding:    (*hexutil.Big)(params.Funding),
		DailyLimit: (*hexutil.Big)(params.DailyLimit),
	}
	var out RegisteredWallet
	if err := c.http.PostJSON(ctx, "/api/v1/admin/wallets", req, &out); err != nil {
		return nil, errors.Wrap(err, "register wallet")
	}
	return &out, nil
}

type advanceChainRequest struct {
	Seconds int64  `json:"seconds,omitempty"`
	Blocks  uint64 `json:"blocks,omitempty"`
}

// ChainPosition is the simulator position after a jump.
type ChainPosition struct {
	BlockNumber uint64 `json:"block_number"`
	Now         int64  `json:"now"`
}

// AdvanceChain jumps the engine's simulated clock and block height.
// Requires an admin token and a non-prod deployment.
func (c *Client) AdvanceChain(ctx context.Context, seconds int64, blocks uint64) (*ChainPosition, error) {
	var out ChainPosition
	req := advanceChainRequest{Seconds: seconds, Blocks: blocks}
	if err := c.http.PostJSON(ctx, "/api/v1/admin/chain/advance", req, &out); err != nil {
		return nil, errors.Wrap(err, "advance chain")
	}
	return &out, nil
}
