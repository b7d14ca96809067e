// Package api is the operator control surface: a gin HTTP server in front
// of engine.Service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hammer-trader/internal/engine"
)

// Options configure the HTTP server.
type Options struct {
	JWTSecret        string
	OperatorUser     string
	OperatorPassword string
	RatePerSecond    float64
	RateBurst        int
	RequestTimeout   time.Duration
}

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router *gin.Engine
	Hub    *Hub

	engine       engine.Service
	jwtSecret    string
	operatorUser string
	operatorHash string
	limiter      *ipLimiter
	http         *http.Server
	log          *zap.Logger
}

// NewServer builds the router. An empty operator password disables login.
func NewServer(svc engine.Service, hub *Hub, opts Options, log *zap.Logger) (*Server, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		Hub:          hub,
		engine:       svc,
		jwtSecret:    opts.JWTSecret,
		operatorUser: opts.OperatorUser,
		limiter:      newIPLimiter(opts.RatePerSecond, opts.RateBurst),
		log:          log,
	}
	if opts.OperatorPassword != "" {
		hash, err := hashPassword(opts.OperatorPassword)
		if err != nil {
			return nil, fmt.Errorf("hash operator password: %w", err)
		}
		s.operatorHash = hash
	} else {
		log.Warn("OPERATOR_PASSWORD not set; login disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(s.limiter, log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())
	s.Router = r

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			protected.GET("/ws", s.websocket)

			protected.GET("/strategies", s.listStrategies)
			protected.GET("/strategies/:key", s.getStrategy)
			protected.POST("/strategies", s.startStrategy)
			protected.PUT("/strategies/:key", s.updateStrategy)
			protected.POST("/strategies/:key/stop", s.stopStrategy)

			protected.GET("/positions", s.getPositions)
			protected.POST("/positions/:symbol/:side/close", s.closePosition)
			protected.GET("/history", s.getHistory)
			protected.GET("/performance", s.getPerformance)

			protected.GET("/balance", s.getBalance)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/alerts", s.getAlerts)
			protected.GET("/reconciliation", s.getReconciliation)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.limiter.cleanup(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
