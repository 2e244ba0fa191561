package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/guard"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// AdminHandler provisions wallets and, outside prod, drives the chain
// simulator.
type AdminHandler struct {
	store        storage.Store
	guardians    *guard.Registry
	sim          *chain.Simulator
	modules      []common.Address
	defaultLimit *big.Int
	logger       *zap.Logger
}

// NewAdminHandler creates a new AdminHandler instance. sim may be nil
// when the deployment does not allow chain control; modules is the set
// of engine modules every new wallet is authorized for.
func NewAdminHandler(store storage.Store, guardians *guard.Registry, sim *chain.Simulator, modules []common.Address, defaultLimit *big.Int, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		store:        store,
		guardians:    guardians,
		sim:          sim,
		modules:      modules,
		defaultLimit: defaultLimit,
		logger:       logger.Named("admin"),
	}
}

// RegisterWalletRequest is the request body for provisioning a wallet.
type RegisterWalletRequest struct {
	Address   common.Address   `json:"address" binding:"required"`
	Owner     common.Address   `json:"owner" binding:"required"`
	Guardians []common.Address `json:"guardians"`
	// Funding is an optional initial ETH balance, in wei.
	Funding *hexutil.Big `json:"funding"`
	// DailyLimit overrides the configured default when present.
	DailyLimit *hexutil.Big `json:"daily_limit"`
}

// RegisterWalletResponse echoes the provisioned wallet.
type RegisterWalletResponse struct {
	Address   common.Address   `json:"address"`
	Owner     common.Address   `json:"owner"`
	Modules   []common.Address `json:"modules"`
	Guardians []common.Address `json:"guardians"`
	Limit     *hexutil.Big     `json:"limit"`
}

// RegisterWallet provisions a wallet with the engine modules authorized,
// guardians installed, the daily limit set, and optional ETH funding.
func (h *AdminHandler) RegisterWallet(c *gin.Context) {
	var req RegisterWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendRelayerError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ctx := c.Request.Context()

	w := wallet.Wallet{
		Address: req.Address,
		Owner:   req.Owner,
		Modules: h.modules,
	}
	if err := h.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, storage.ErrWalletExists) {
			sendRelayerError(c, http.StatusConflict, "wallet already registered", err)
		} else {
			sendRelayerError(c, http.StatusInternalServerError, "failed to register wallet", err)
		}
		return
	}
	if len(req.Guardians) > 0 {
		if err := h.guardians.SetGuardians(ctx, req.Address, req.Guardians); err != nil {
			sendRelayerError(c, http.StatusInternalServerError, "failed to set guardians", err)
			return
		}
	}

	limit := h.defaultLimit
	if req.DailyLimit != nil {
		limit = (*big.Int)(req.DailyLimit)
	}
	if err := h.store.SetLimit(ctx, req.Address, wallet.Limit{Current: new(big.Int).Set(limit)}); err != nil {
		sendRelayerError(c, http.StatusInternalServerError, "failed to set limit", err)
		return
	}

	if req.Funding != nil && h.sim != nil {
		h.sim.Mint(wallet.ETHToken, req.Address, (*big.Int)(req.Funding))
	}

	h.logger.Info("wallet registered",
		zap.String("wallet", req.Address.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Int("guardians", len(req.Guardians)),
	)
	c.JSON(http.StatusCreated, RegisterWalletResponse{
		Address:   req.Address,
		Owner:     req.Owner,
		Modules:   h.modules,
		Guardians: req.Guardians,
		Limit:     (*hexutil.Big)(limit),
	})
}

// AdvanceChainRequest moves the simulator forward in time and/or blocks.
type AdvanceChainRequest struct {
	Seconds int64  `json:"seconds"`
	Blocks  uint64 `json:"blocks"`
}

// AdvanceChainResponse reports the simulator position after the jump.
type AdvanceChainResponse struct {
	BlockNumber uint64 `json:"block_number"`
	Now         int64  `json:"now"`
}

// AdvanceChain jumps the simulator clock and block height. Unavailable
// when the deployment runs without a simulator.
func (h *AdminHandler) AdvanceChain(c *gin.Context) {
	if h.sim == nil {
		sendRelayerError(c, http.StatusForbidden, "chain control is not available", nil)
		return
	}
	var req AdvanceChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendRelayerError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Seconds > 0 {
		h.sim.AdvanceTime(time.Duration(req.Seconds) * time.Second)
	}
	if req.Blocks > 0 {
		h.sim.AdvanceBlocks(req.Blocks)
	}
	c.JSON(http.StatusOK, AdvanceChainResponse{
		BlockNumber: h.sim.BlockNumber(),
		Now:         h.sim.Now(),
	})
}
