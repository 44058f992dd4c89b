// Package api exposes the HTTP and websocket surface of the bot engine.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"botcore/internal/automation"
	"botcore/internal/bot"
	"botcore/internal/events"
	"botcore/internal/session"
	"botcore/internal/strategy"
	"botcore/pkg/store"
)

// Server wires HTTP endpoints around the bot manager.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *store.Store
	Bots       *bot.Manager
	Sessions   *session.Registry
	Strategies *strategy.Registry
	Automation *automation.Manager
	JWTSecret  string
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Version      string
	MT5BridgeURL string
	PaperDefault bool
}

// NewServer builds the router and registers all routes.
func NewServer(bus *events.Bus, db *store.Store, bots *bot.Manager, sessions *session.Registry, strategies *strategy.Registry, auto *automation.Manager, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		DB:         db,
		Bots:       bots,
		Sessions:   sessions,
		Strategies: strategies,
		Automation: auto,
		JWTSecret:  jwtSecret,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/strategies", s.getStrategies)

			// Bot lifecycle
			protected.GET("/bots", s.getBots)
			protected.POST("/bots/start", s.startBot)
			protected.POST("/bots/stop", s.stopBot)
			protected.POST("/bots/pause", s.pauseBot)
			protected.POST("/bots/resume", s.resumeBot)

			// Risk
			protected.GET("/risk/metrics", s.getRiskMetrics)
			protected.GET("/risk/settings", s.getRiskSettings)
			protected.PUT("/risk/settings", s.updateRiskSettings)

			// Paper account
			protected.GET("/account", s.getAccount)
			protected.GET("/account/history", s.getAccountHistory)
			protected.POST("/account/reset", s.resetAccount)

			// History and activity
			protected.GET("/trades", s.getTrades)
			protected.GET("/logs", s.getLogs)

			// Broker sessions
			protected.GET("/sessions", s.getSessions)
			protected.POST("/sessions/connect", s.connectSession)
			protected.DELETE("/sessions/:broker", s.disconnectSession)

			// Automation rules
			protected.GET("/automation/rules", s.getRules)
			protected.POST("/automation/rules", s.addRule)
			protected.DELETE("/automation/rules/:id", s.removeRule)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":       s.Meta.Version,
		"paper_default": s.Meta.PaperDefault,
		"active_bots":   s.Bots.Count(),
		"sessions":      s.Sessions.Count(),
		"strategies":    s.Strategies.List(),
	})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
