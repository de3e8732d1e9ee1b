package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleGetConnections returns the live connections, ordered by id.
func (s *Server) handleGetConnections(c *gin.Context) {
	all := s.endpoint.Connections().GetAll()
	conns := make([]network.ConnectionInfo, 0, len(all))
	for _, conn := range all {
		conns = append(conns, conn.Info())
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"total":       len(conns),
	})
}

// handleGetHistory returns recent connection records from the database.
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.history.RecentConnections(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connections": records,
		"total":       len(records),
	})
}

// handleGetCPUUsage returns current system CPU usage.
func (s *Server) handleGetCPUUsage(c *gin.Context) {
	usage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": usage,
	})
}

// handleGetMemoryUsage returns current system memory usage.
func (s *Server) handleGetMemoryUsage(c *gin.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_mb":     mem.Total,
		"used_mb":      mem.Used,
		"available_mb": mem.Available,
		"used_percent": mem.UsedPercent,
	})
}
