package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cyphera/wallet-relayer/internal/events"
)

const defaultEventCount = 100

// EventHandler exposes the engine's recent event feed.
type EventHandler struct {
	log *events.Log
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(log *events.Log) *EventHandler {
	return &EventHandler{log: log}
}

// Recent returns the most recent events, newest last. The optional
// ?limit= parameter caps the count.
func (h *EventHandler) Recent(c *gin.Context) {
	n := defaultEventCount
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			sendRelayerError(c, http.StatusBadRequest, "invalid limit", err)
			return
		}
		n = parsed
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": h.log.Recent(n)})
}
