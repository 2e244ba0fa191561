package handlers

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/cyphera/wallet-relayer/internal/limits"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/transfers"
)

// WalletStateHandler exposes read-only wallet state: nonce, limit,
// pending transfers and whitelist entries.
type WalletStateHandler struct {
	store    storage.Store
	limits   *limits.Tracker
	transfer *transfers.Manager
}

// NewWalletStateHandler creates a new WalletStateHandler instance
func NewWalletStateHandler(store storage.Store, tracker *limits.Tracker, transfer *transfers.Manager) *WalletStateHandler {
	return &WalletStateHandler{store: store, limits: tracker, transfer: transfer}
}

// NonceResponse carries the last consumed relayer nonce for a wallet.
type NonceResponse struct {
	Wallet common.Address `json:"wallet"`
	Nonce  *hexutil.Big   `json:"nonce"`
}

// LimitResponse carries the limit in force plus any scheduled change and
// the unspent daily allowance.
type LimitResponse struct {
	Wallet       common.Address `json:"wallet"`
	Limit        *hexutil.Big   `json:"limit"`
	Pending      *hexutil.Big   `json:"pending,omitempty"`
	ChangeAfter  int64          `json:"change_after,omitempty"`
	DailyUnspent *hexutil.Big   `json:"daily_unspent"`
	Disabled     bool           `json:"disabled"`
}

// PendingTransferResponse is one escrowed transfer awaiting its window.
type PendingTransferResponse struct {
	ID           common.Hash `json:"id"`
	ExecuteAfter int64       `json:"execute_after"`
}

// WhitelistResponse reports a target's whitelist state for a wallet.
type WhitelistResponse struct {
	Wallet         common.Address `json:"wallet"`
	Target         common.Address `json:"target"`
	Whitelisted    bool           `json:"whitelisted"`
	WhitelistAfter int64          `json:"whitelist_after,omitempty"`
}

// parseWalletParam validates the :address path parameter.
func parseWalletParam(c *gin.Context, param string) (common.Address, bool) {
	raw := c.Param(param)
	if !common.IsHexAddress(raw) {
		sendRelayerError(c, http.StatusBadRequest, "invalid address", nil)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// requireWallet loads the wallet or replies 404.
func (h *WalletStateHandler) requireWallet(c *gin.Context, addr common.Address) bool {
	if _, err := h.store.GetWallet(c.Request.Context(), addr); err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			sendRelayerError(c, http.StatusNotFound, "wallet not found", err)
		} else {
			sendRelayerError(c, http.StatusInternalServerError, "failed to load wallet", err)
		}
		return false
	}
	return true
}

// GetNonce returns the wallet's last consumed nonce.
func (h *WalletStateHandler) GetNonce(c *gin.Context) {
	addr, ok := parseWalletParam(c, "address")
	if !ok || !h.requireWallet(c, addr) {
		return
	}
	nonce, err := h.store.GetNonce(c.Request.Context(), addr)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load nonce", err)
		return
	}
	c.JSON(http.StatusOK, NonceResponse{Wallet: addr, Nonce: (*hexutil.Big)(nonce)})
}

// GetLimit returns the wallet's daily limit state.
func (h *WalletStateHandler) GetLimit(c *gin.Context) {
	addr, ok := parseWalletParam(c, "address")
	if !ok || !h.requireWallet(c, addr) {
		return
	}
	ctx := c.Request.Context()

	current, err := h.limits.CurrentLimit(ctx, addr)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load limit", err)
		return
	}
	unspent, err := h.limits.DailyUnspent(ctx, addr)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load daily allowance", err)
		return
	}
	disabled, err := h.limits.IsDisabled(ctx, addr)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load limit", err)
		return
	}

	resp := LimitResponse{
		Wallet:       addr,
		Limit:        (*hexutil.Big)(current),
		DailyUnspent: (*hexutil.Big)(unspent),
		Disabled:     disabled,
	}
	raw, err := h.store.GetLimit(ctx, addr)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load limit", err)
		return
	}
	if raw.Pending != nil && raw.ChangeAfter != 0 {
		resp.Pending = (*hexutil.Big)(raw.Pending)
		resp.ChangeAfter = raw.ChangeAfter
	}
	c.JSON(http.StatusOK, resp)
}

// GetPendingTransfers lists the wallet's escrowed transfers.
func (h *WalletStateHandler) GetPendingTransfers(c *gin.Context) {
	addr, ok := parseWalletParam(c, "address")
	if !ok || !h.requireWallet(c, addr) {
		return
	}
	pending, err := h.transfer.PendingTransfers(c.Request.Context(), addr)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load pending transfers", err)
		return
	}
	out := make([]PendingTransferResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, PendingTransferResponse{ID: p.ID, ExecuteAfter: p.ExecuteAfter})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
}

// GetWhitelistStatus reports whether a target is whitelisted for a wallet.
func (h *WalletStateHandler) GetWhitelistStatus(c *gin.Context) {
	addr, ok := parseWalletParam(c, "address")
	if !ok || !h.requireWallet(c, addr) {
		return
	}
	target, ok := parseWalletParam(c, "target")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	whitelisted, err := h.transfer.IsWhitelisted(ctx, addr, target)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load whitelist entry", err)
		return
	}
	after, err := h.store.GetWhitelistAfter(ctx, addr, target)
	if err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to load whitelist entry", err)
		return
	}
	c.JSON(http.StatusOK, WhitelistResponse{
		Wallet:         addr,
		Target:         target,
		Whitelisted:    whitelisted,
		WhitelistAfter: after,
	})
}
