// Package relayclient is the Go SDK for the relay engine: it builds
// module call data, signs relay requests, and submits them over HTTP.
package relayclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/cyphera/wallet-relayer/internal/httpclient"
	"github.com/cyphera/wallet-relayer/internal/relay"
)

// Client talks to a relay engine instance.
type Client struct {
	http       *httpclient.Client
	relayer    common.Address
	adminToken string
}

// Option configures the client.
type Option func(*Client)

// WithRelayer sets the relayer identity attached to submitted requests,
// the default refund recipient.
func WithRelayer(addr common.Address) Option {
	return func(c *Client) { c.relayer = addr }
}

// WithAdminToken attaches an admin bearer token to every request.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// New creates a client for the engine at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	httpOpts := []httpclient.Option{httpclient.WithBaseURL(baseURL)}
	if c.adminToken != "" {
		httpOpts = append(httpOpts, httpclient.WithHeader("Authorization", "Bearer "+c.adminToken))
	}
	c.http = httpclient.New(httpOpts...)
	return c
}

// RelayRequest is the wire form of a relayed call.
type RelayRequest struct {
	Wallet        common.Address `json:"wallet"`
	Module        common.Address `json:"module"`
	Data          hexutil.Bytes  `json:"data"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Signatures    hexutil.Bytes  `json:"signatures"`
	GasPrice      *hexutil.Big   `json:"gas_price"`
	GasLimit      hexutil.Uint64 `json:"gas_limit"`
	RefundToken   common.Address `json:"refund_token"`
	RefundAddress common.Address `json:"refund_address"`
	Relayer       common.Address `json:"relayer"`
}

// RelayResult is the engine's response to a relayed call.
type RelayResult struct {
	Success    bool          `json:"success"`
	ReturnData hexutil.Bytes `json:"return_data"`
	SignHash   common.Hash   `json:"sign_hash"`
}

// Relay signs and submits one relayed call. The request's sign-hash is
// computed locally, signed by every signer in order, and submitted with
// the relayer identity attached.
func (c *Client) Relay(ctx context.Context, req RelayParams) (*RelayResult, error) {
	if req.Nonce == nil {
		req.Nonce = new(big.Int)
	}
	if req.GasPrice == nil {
		req.GasPrice = new(big.Int)
	}

	hash := SignHash(req.EngineAddress, req.Module, req.Data, req.Nonce,
		req.GasPrice, req.GasLimit, req.RefundToken, req.RefundAddress)
	blob, err := SignAll(hash, req.Owner, req.Guardians)
	if err != nil {
		return nil, errors.Wrap(err, "sign relay request")
	}

	wire := RelayRequest{
		Wallet:        req.Wallet,
		Module:        req.Module,
		Data:          req.Data,
		Nonce:         (*hexutil.Big)(req.Nonce),
		Signatures:    blob,
		GasPrice:      (*hexutil.Big)(req.GasPrice),
		GasLimit:      hexutil.Uint64(req.GasLimit),
		RefundToken:   req.RefundToken,
		RefundAddress: req.RefundAddress,
		Relayer:       c.relayer,
	}
	var result RelayResult
	if err := c.http.PostJSON(ctx, "/api/v1/relay", wire, &result); err != nil {
		return nil, errors.Wrap(err, "relay call")
	}
	return &result, nil
}

// RelayParams describes a relayed call before signing. EngineAddress is
// the engine identity bound into the sign-hash; Owner signs first,
// Guardians co-sign in address order.
type RelayParams struct {
	EngineAddress common.Address
	Wallet        common.Address
	Module        common.Address
	Data          []byte
	Nonce         *big.Int
	GasPrice      *big.Int
	GasLimit      uint64
	RefundToken   common.Address
	RefundAddress common.Address
	Owner         *Signer
	Guardians     []*Signer
}

// NewNonce fabricates a block-bounded incremental nonce.
func NewNonce(block uint64, counter uint64) *big.Int {
	return relay.MakeNonce(block, counter)
}

// NonceInfo is the engine's stored nonce for a wallet.
type NonceInfo struct {
	Wallet common.Address `json:"wallet"`
	Nonce  *hexutil.Big   `json:"nonce"`
}

// Nonce fetches the wallet's last consumed nonce.
func (c *Client) Nonce(ctx context.Context, wallet common.Address) (*big.Int, error) {
	var out NonceInfo
	path := fmt.Sprintf("/api/v1/wallets/%s/nonce", wallet.Hex())
	if err := c.http.GetJSON(ctx, path, &out); err != nil {
		return nil, errors.Wrap(err, "get nonce")
	}
	if out.Nonce == nil {
		return new(big.Int), nil
	}
	return (*big.Int)(out.Nonce), nil
}

// LimitInfo is the engine's daily-limit state for a wallet.
type LimitInfo struct {
	Wallet       common.Address `json:"wallet"`
	Limit        *hexutil.Big   `json:"limit"`
	Pending      *hexutil.Big   `json:"pending"`
	ChangeAfter  int64          `json:"change_after"`
	DailyUnspent *hexutil.Big   `json:"daily_unspent"`
	Disabled     bool           `json:"disabled"`
}

// Limit fetches the wallet's daily-limit state.
func (c *Client) Limit(ctx context.Context, wallet common.Address) (*LimitInfo, error) {
	var out LimitInfo
	path := fmt.Sprintf("/api/v1/wallets/%s/limit", wallet.Hex())
	if err := c.http.GetJSON(ctx, path, &out); err != nil {
		return nil, errors.Wrap(err, "get limit")
	}
	return &out, nil
}

// PendingTransferInfo is one escrowed transfer.
type PendingTransferInfo struct {
	ID           common.Hash `json:"id"`
	ExecuteAfter int64       `json:"execute_after"`
}

type pendingTransferList struct {
	Data []PendingTransferInfo `json:"data"`
}

// PendingTransfers lists the wallet's escrowed transfers.
func (c *Client) PendingTransfers(ctx context.Context, wallet common.Address) ([]PendingTransferInfo, error) {
	var out pendingTransferList
	path := fmt.Sprintf("/api/v1/wallets/%s/transfers/pending", wallet.Hex())
	if err := c.http.GetJSON(ctx, path, &out); err != nil {
		return nil, errors.Wrap(err, "list pending transfers")
	}
	return out.Data, nil
}

// WhitelistInfo is a target's whitelist state for a wallet.
type WhitelistInfo struct {
	Wallet         common.Address `json:"wallet"`
	Target         common.Address `json:"target"`
	Whitelisted    bool           `json:"whitelisted"`
	WhitelistAfter int64          `json:"whitelist_after"`
}

// WhitelistStatus fetches a target's whitelist state.
func (c *Client) WhitelistStatus(ctx context.Context, wallet, target common.Address) (*WhitelistInfo, error) {
	var out WhitelistInfo
	path := fmt.Sprintf("/api/v1/wallets/%s/whitelist/%s", wallet.Hex(), target.Hex())
	if err := c.http.GetJSON(ctx, path, &out); err != nil {
		return nil, errors.Wrap(err, "get whitelist status")
	}
	return &out, nil
}
