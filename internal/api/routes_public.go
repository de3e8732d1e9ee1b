package api

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "beacon",
		"version": util.AppVersion,
	})
}

// handleGetAdvertisement returns the advertisement currently served by the
// endpoint, decoded from the served bytes, with the revision of the state
// that produced it. in_sync is false if the endpoint serves a buffer other
// than the state's latest encoding.
func (s *Server) handleGetAdvertisement(c *gin.Context) {
	buf := s.endpoint.Advertisement()
	if buf == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no advertisement registered"})
		return
	}

	ad, n, err := protocol.Decode(buf)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	snap := s.state.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"network_id":    strconv.FormatUint(s.endpoint.NetworkID(), 10),
		"advertisement": ad,
		"hex":           hex.EncodeToString(buf),
		"length":        n,
		"revision":      snap.Revision,
		"updated_at":    snap.UpdatedAt,
		"in_sync":       bytes.Equal(snap.Encoded, buf),
	})
}

// handleGetServerInfo returns host information.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"network_id":      strconv.FormatUint(s.endpoint.NetworkID(), 10),
		"version":         util.AppVersion,
		"uptime_sec":      int64(time.Since(s.startedAt).Seconds()),
		"connections":     s.endpoint.Connections().Count(),
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"platform":        sysInfo.Platform,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
