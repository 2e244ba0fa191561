package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/limits"
	"github.com/cyphera/wallet-relayer/internal/logger"
	"github.com/cyphera/wallet-relayer/internal/module"
	"github.com/cyphera/wallet-relayer/internal/relay"
	"github.com/cyphera/wallet-relayer/internal/signature"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/transfers"
)

// RelayerErrorResponse is the standard error body.
type RelayerErrorResponse struct {
	Error string `json:"error"`
}

// RelayerSuccessResponse is the standard message body.
type RelayerSuccessResponse struct {
	Message string `json:"message"`
}

// sendRelayerError logs the error and sends a JSON error response.
func sendRelayerError(c *gin.Context, statusCode int, message string, err error) {
	logger.Error(message,
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)
	c.JSON(statusCode, RelayerErrorResponse{Error: message})
}

// relayStatus maps engine sentinels onto HTTP status codes. Rejections
// of the caller's authorization, replay or policy are client errors;
// funding and escrow rejections are conflicts; everything else is
// internal.
func relayStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrDuplicateRequest),
		errors.Is(err, relay.ErrNonceOutOfBounds),
		errors.Is(err, relay.ErrWalletMismatch),
		errors.Is(err, relay.ErrModuleNotAuthorized),
		errors.Is(err, relay.ErrWalletLocked),
		errors.Is(err, relay.ErrNoAuthorization),
		errors.Is(err, relay.ErrBadSignatureLength),
		errors.Is(err, relay.ErrNotEnoughGas),
		errors.Is(err, module.ErrShortData),
		errors.Is(err, module.ErrUnknownSelector),
		errors.Is(err, limits.ErrLimitTooLarge),
		errors.Is(err, signature.ErrInvalidBlob),
		errors.Is(err, signature.ErrNotOwner),
		errors.Is(err, signature.ErrBadSignerOrder),
		errors.Is(err, signature.ErrNotGuardian):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrRefundOverLimit),
		errors.Is(err, chain.ErrInsufficientBalance),
		errors.Is(err, transfers.ErrDuplicatePendingTransfer):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
