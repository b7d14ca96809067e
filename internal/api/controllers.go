package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/decision"
	"hammer-trader/internal/domain"
	"hammer-trader/internal/engine"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
	"hammer-trader/pkg/exchanges/common"
)

type strategyRequest struct {
	Key            string                     `json:"key"`
	Type           string                     `json:"type" binding:"required"`
	Symbols        []string                   `json:"symbols" binding:"required,min=1,dive,required"`
	Asset          string                     `json:"asset"`
	AllocatedRatio decimal.Decimal            `json:"allocated_ratio"`
	Interval       string                     `json:"interval" binding:"required"`
	MaxPositions   int                        `json:"max_positions" binding:"gte=0"`
	Parameters     map[string]decimal.Decimal `json:"parameters"`
}

type historyQuery struct {
	Strategy string `form:"strategy"`
	Limit    int    `form:"limit"`
}

func (q *historyQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func (r strategyRequest) spec(defaultAsset string) strategy.Spec {
	symbols := make([]string, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	asset := strings.ToUpper(r.Asset)
	if asset == "" {
		asset = defaultAsset
	}
	maxPositions := r.MaxPositions
	if maxPositions == 0 {
		maxPositions = 1
	}
	return strategy.Spec{
		Key:            strings.TrimSpace(r.Key),
		Type:           strings.ToLower(r.Type),
		Symbols:        symbols,
		Asset:          asset,
		AllocatedRatio: r.AllocatedRatio,
		Interval:       domain.Interval(r.Interval),
		MaxPositions:   maxPositions,
		Parameters:     r.Parameters,
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine errors onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, strategy.ErrInvalidSpec), errors.Is(err, engine.ErrUnknownType):
		respondError(c, http.StatusBadRequest, "INVALID_STRATEGY", err.Error())
	case errors.Is(err, strategy.ErrNotFound), errors.Is(err, state.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, strategy.ErrAlreadyExist):
		respondError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, decision.ErrNotSynced), errors.Is(err, engine.ErrNoSpec):
		respondError(c, http.StatusConflict, "NOT_CLOSABLE", err.Error())
	case common.IsExchangeError(err):
		respondError(c, http.StatusBadGateway, "EXCHANGE_ERROR", err.Error())
	default:
		s.log.Error("engine call failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// --- System ---

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetMetrics(c.Request.Context()))
}

func (s *Server) getAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetAlerts(c.Request.Context()))
}

func (s *Server) getReconciliation(c *gin.Context) {
	report := s.engine.GetReconciliation(c.Request.Context())
	if report == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no reconciliation has run yet")
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- Strategies ---

func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ListStrategies(c.Request.Context()))
}

func (s *Server) getStrategy(c *gin.Context) {
	spec, err := s.engine.GetStrategy(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

func (s *Server) startStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Key == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "key is required")
		return
	}
	status := s.engine.GetSystemStatus(c.Request.Context())
	spec, err := s.engine.StartStrategy(c.Request.Context(), req.spec(status.QuoteAsset))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("strategy started via api", zap.String("key", spec.Key), zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusCreated, spec)
}

func (s *Server) updateStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	req.Key = c.Param("key")
	status := s.engine.GetSystemStatus(c.Request.Context())
	spec, err := s.engine.UpdateStrategy(c.Request.Context(), req.spec(status.QuoteAsset))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("strategy updated via api", zap.String("key", spec.Key), zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, spec)
}

func (s *Server) stopStrategy(c *gin.Context) {
	key := c.Param("key")
	if err := s.engine.StopStrategy(c.Request.Context(), key); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("strategy stopped via api", zap.String("key", key), zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, gin.H{"key": key, "status": strategy.StatusStopped})
}

// --- Positions ---

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetPositions(c.Request.Context(), c.Query("strategy")))
}

func (s *Server) closePosition(c *gin.Context) {
	side := domain.Side(strings.ToUpper(c.Param("side")))
	if !side.Valid() {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "side must be LONG or SHORT")
		return
	}
	key := state.Key{Symbol: strings.ToUpper(c.Param("symbol")), Side: side}
	if err := s.engine.ClosePosition(c.Request.Context(), key); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("position closed via api", zap.String("key", key.String()), zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, gin.H{"closed": key.String()})
}

func (s *Server) getHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	rows, err := s.engine.GetHistory(c.Request.Context(), q.Strategy, q.Limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if rows == nil {
		rows = []state.History{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getPerformance(c *gin.Context) {
	perf, err := s.engine.GetPerformance(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// --- Balance ---

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetBalances(c.Request.Context()))
}
