package handlers

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/cyphera/wallet-relayer/internal/relay"
)

// RelayHandler accepts signed meta-transactions and runs them through
// the relay executor.
type RelayHandler struct {
	executor *relay.Executor
}

// NewRelayHandler creates a new RelayHandler instance
func NewRelayHandler(executor *relay.Executor) *RelayHandler {
	return &RelayHandler{executor: executor}
}

// RelayRequest is the request body for a relayed module call.
type RelayRequest struct {
	Wallet        common.Address `json:"wallet" binding:"required"`
	Module        common.Address `json:"module" binding:"required"`
	Data          hexutil.Bytes  `json:"data" binding:"required"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Signatures    hexutil.Bytes  `json:"signatures"`
	GasPrice      *hexutil.Big   `json:"gas_price"`
	GasLimit      hexutil.Uint64 `json:"gas_limit"`
	RefundToken   common.Address `json:"refund_token"`
	RefundAddress common.Address `json:"refund_address"`
	Relayer       common.Address `json:"relayer"`
}

// RelayResponse reports the outcome of a relayed call. Success reflects
// the inner module call; a false value still means the nonce was
// consumed and the refund paid.
type RelayResponse struct {
	Success    bool          `json:"success"`
	ReturnData hexutil.Bytes `json:"return_data,omitempty"`
	SignHash   common.Hash   `json:"sign_hash"`
}

// Relay executes one relayed call.
func (h *RelayHandler) Relay(c *gin.Context) {
	var req RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendRelayerError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	nonce := new(big.Int)
	if req.Nonce != nil {
		nonce = (*big.Int)(req.Nonce)
	}
	gasPrice := new(big.Int)
	if req.GasPrice != nil {
		gasPrice = (*big.Int)(req.GasPrice)
	}

	result, err := h.executor.Execute(c.Request.Context(), relay.Request{
		Wallet:        req.Wallet,
		Module:        req.Module,
		Data:          req.Data,
		Nonce:         nonce,
		Signatures:    req.Signatures,
		GasPrice:      gasPrice,
		GasLimit:      uint64(req.GasLimit),
		RefundToken:   req.RefundToken,
		RefundAddress: req.RefundAddress,
		Relayer:       req.Relayer,
	})
	if err != nil {
		sendRelayerError(c, relayStatus(err), err.Error(), err)
		return
	}

	c.JSON(http.StatusOK, RelayResponse{
		Success:    result.Success,
		ReturnData: result.ReturnData,
		SignHash:   result.SignHash,
	})
}
