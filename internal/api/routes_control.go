package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/server"
)

// handleUpdateAdvertisement applies a partial update to the advertisement.
// Updates that cannot be encoded are rejected and the served advertisement
// stays unchanged.
func (s *Server) handleUpdateAdvertisement(c *gin.Context) {
	var patch server.AdvertisementPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if patch.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	ad, err := s.state.Update(patch)
	if err != nil {
		var encErr *protocol.EncodingError
		if errors.As(err, &encErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  err.Error(),
				"field":  encErr.Field,
				"length": encErr.Length,
				"limit":  protocol.MaxStringLength,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("client_ip", c.ClientIP()).Msg("advertisement updated via API")

	c.JSON(http.StatusOK, gin.H{
		"advertisement": ad,
		"length":        protocol.EncodedLen(ad),
	})
}

type broadcastRequest struct {
	// Data is the base64 encoded frame payload.
	Data string `json:"data" binding:"required"`
}

// handleBroadcast sends one frame to every live connection.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil || len(data) == 0 || len(data) > protocol.MaxPacketSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be 1 to 65535 bytes of base64"})
		return
	}

	sent := s.endpoint.Connections().SendToAll(c.Request.Context(), data)
	c.JSON(http.StatusOK, gin.H{
		"sent":   sent,
		"length": len(data),
	})
}

// handleCloseConnection closes one live connection.
func (s *Server) handleCloseConnection(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	conn, ok := s.endpoint.Connections().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	conn.CloseWithReason(events.CloseKicked)
	c.JSON(http.StatusOK, gin.H{"closed": id})
}
