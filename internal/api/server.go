package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/config"
	"github.com/energizer-project/beacon/internal/db"
	intnet "github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/server"
)

// Endpoint is the part of the running endpoint the API reads.
type Endpoint interface {
	NetworkID() uint64
	Advertisement() []byte
	Connections() *intnet.ConnectionRegistry
}

// History is the session history the API reads. It may be nil when the
// database is disabled.
type History interface {
	RecentConnections(limit int) ([]db.ConnectionRecord, error)
}

// Server is the REST API server for Beacon.
type Server struct {
	cfg      *config.Config
	endpoint Endpoint
	state    *server.AdvertisementState
	history  History

	limiter    *RateLimiter
	httpServer *http.Server
	router     *gin.Engine
	startedAt  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, endpoint Endpoint, state *server.AdvertisementState, history History) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		endpoint:  endpoint,
		state:     state,
		history:   history,
		limiter:   NewRateLimiter(cfg.API.RateLimitRPS),
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.API.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	go s.pruneClients(ctx)

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) pruneClients(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(10 * time.Minute); n > 0 {
				log.Debug().Int("clients", n).Msg("pruned idle rate limiter clients")
			}
		}
	}
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(s.limiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/advertisement", s.handleGetAdvertisement)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg.API.Token))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/connections", s.handleGetConnections)
		monitor.GET("/history", s.handleGetHistory)
		monitor.GET("/cpu_usage", s.handleGetCPUUsage)
		monitor.GET("/memory_usage", s.handleGetMemoryUsage)
	}

	control := protected.Group("/control")
	{
		control.PUT("/advertisement", s.handleUpdateAdvertisement)
		control.POST("/broadcast", s.handleBroadcast)
		control.POST("/connections/:id/close", s.handleCloseConnection)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
