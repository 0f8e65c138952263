package riskhttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskcore/internal/audit"
	"riskcore/internal/logger"
	"riskcore/internal/pretrade"
	"riskcore/internal/report"
	"riskcore/internal/service"
	"riskcore/internal/stage"
	"riskcore/internal/types"

	"github.com/gin-gonic/gin"
)

// Router 暴露风控相关的查询与人工操作接口。
type Router struct {
	svc     *service.Service
	tracker *service.ManualTracker
}

// NewRouter 构造 risk HTTP router。tracker 可为 nil，此时不挂载会话上报接口。
func NewRouter(svc *service.Service, tracker *service.ManualTracker) *Router {
	return &Router{svc: svc, tracker: tracker}
}

// Register 将 /api/risk 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/transitions", r.handleTransitions)
	group.GET("/overrides", r.handleOverrides)
	group.GET("/sessions", r.handleSessions)
	group.GET("/report", r.handleReport)
	group.POST("/admit", r.handleAdmit)
	group.POST("/orders/resolve", r.handleOrderResolve)
	group.POST("/advance", r.handleAdvance)
	group.POST("/downgrade", r.handleDowngrade)
	group.POST("/breaker/trip", r.handleBreakerTrip)
	group.POST("/breaker/reset", r.handleBreakerReset)
	if r.tracker != nil {
		group.POST("/sessions/report", r.handleSessionReport)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.svc.Status(c.Request.Context()))
}

// parseTimeRange 解析 start/end 查询参数，支持 RFC3339 与 YYYY-MM-DD。
// 缺省值为零值，表示不限定该端。
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	var start, end time.Time
	if raw := strings.TrimSpace(c.Query("start")); raw != "" {
		t, err := parseFlexibleTime(raw, false)
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if raw := strings.TrimSpace(c.Query("end")); raw != "" {
		t, err := parseFlexibleTime(raw, true)
		if err != nil {
			return start, end, err
		}
		end = t
	}
	return start, end, nil
}

func parseFlexibleTime(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (r *Router) handleTransitions(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range", "detail": err.Error()})
		return
	}
	list, err := r.svc.QueryTransitions(c.Request.Context(), start, end)
	if err != nil {
		logger.Errorf("[api] transitions query failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if strings.EqualFold(c.DefaultQuery("format", "json"), "csv") {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="transitions.csv"`)
		if err := audit.WriteTransitionsCSV(c.Writer, list); err != nil {
			logger.Errorf("[api] transitions csv export failed ip=%s err=%v", c.ClientIP(), err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": list, "count": len(list)})
}

func (r *Router) handleOverrides(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range", "detail": err.Error()})
		return
	}
	list, err := r.svc.QueryOverrideAttempts(c.Request.Context(), start, end)
	if err != nil {
		logger.Errorf("[api] overrides query failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if strings.EqualFold(c.DefaultQuery("format", "json"), "csv") {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="overrides.csv"`)
		if err := audit.WriteOverridesCSV(c.Writer, list); err != nil {
			logger.Errorf("[api] overrides csv export failed ip=%s err=%v", c.ClientIP(), err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": list, "count": len(list)})
}

func (r *Router) handleSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if limit <= 0 {
		limit = 30
	}
	if limit > 500 {
		limit = 500
	}
	sessions, err := r.svc.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] sessions query failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (r *Router) handleReport(c *gin.Context) {
	ctx := c.Request.Context()
	transitions, err := r.svc.QueryTransitions(ctx, time.Time{}, time.Time{})
	if err != nil {
		logger.Errorf("[api] report transitions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sessions, err := r.svc.RecentSessions(ctx, 90)
	if err != nil {
		logger.Errorf("[api] report sessions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(c.Writer, report.Input{Transitions: transitions, Sessions: sessions}); err != nil {
		logger.Errorf("[api] report render failed ip=%s err=%v", c.ClientIP(), err)
	}
}

type admitRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	ConsecutiveWins int     `json:"consecutive_wins"`
	RollingWinRate  float64 `json:"rolling_win_rate"`
	PortfolioValue  float64 `json:"portfolio_value"`
}

func (r *Router) handleAdmit(c *gin.Context) {
	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	trade := types.TradeRequest{
		Symbol:   req.Symbol,
		Side:     strings.ToUpper(strings.TrimSpace(req.Side)),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	opts := service.AdmitOptions{
		ConsecutiveWins: req.ConsecutiveWins,
		RollingWinRate:  req.RollingWinRate,
		PortfolioValue:  req.PortfolioValue,
	}
	result, err := r.svc.AdmitTrade(c.Request.Context(), trade, opts)
	if err != nil {
		if errors.Is(err, pretrade.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] admit failed ip=%s symbol=%s err=%v", c.ClientIP(), trade.Symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] admit ip=%s symbol=%s side=%s allowed=%v reason=%s", c.ClientIP(), trade.Symbol, trade.Side, result.Allowed, result.Reason)
	c.JSON(http.StatusOK, result)
}

type orderResolveRequest struct {
	Symbol string `json:"symbol"`
}

func (r *Router) handleOrderResolve(c *gin.Context) {
	var req orderResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	r.svc.ResolveOrder(req.Symbol)
	logger.Infof("[api] order resolved ip=%s symbol=%s", c.ClientIP(), strings.ToUpper(strings.TrimSpace(req.Symbol)))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type advanceRequest struct {
	Target     string `json:"target"`
	Force      bool   `json:"force"`
	OperatorID string `json:"operator_id"`
}

func (r *Router) handleAdvance(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	target, err := types.ParseStage(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := r.svc.Advance(c.Request.Context(), target, req.Force, req.OperatorID)
	if err != nil {
		var seqErr *stage.NonSequentialError
		var valErr *stage.ValidationError
		switch {
		case errors.Is(err, service.ErrOverrideBlocked):
			logger.Warnf("[api] advance override blocked ip=%s target=%s operator=%s", c.ClientIP(), target, req.OperatorID)
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.As(err, &seqErr):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &valErr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "validation": valErr.Result})
		default:
			logger.Errorf("[api] advance failed ip=%s target=%s err=%v", c.ClientIP(), target, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	logger.Infof("[api] advance ip=%s %s -> %s force=%v operator=%s", c.ClientIP(), t.FromStage, t.ToStage, req.Force, req.OperatorID)
	c.JSON(http.StatusOK, gin.H{"transition": t})
}

type downgradeRequest struct {
	Target     string `json:"target"`
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id"`
}

func (r *Router) handleDowngrade(c *gin.Context) {
	var req downgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	target, err := types.ParseStage(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason 必填"})
		return
	}
	t, err := r.svc.Downgrade(c.Request.Context(), target, req.Reason, req.OperatorID)
	if err != nil {
		var seqErr *stage.NonSequentialError
		if errors.As(err, &seqErr) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] downgrade failed ip=%s target=%s err=%v", c.ClientIP(), target, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] downgrade ip=%s %s -> %s reason=%s operator=%s", c.ClientIP(), t.FromStage, t.ToStage, req.Reason, req.OperatorID)
	c.JSON(http.StatusOK, gin.H{"transition": t})
}

type breakerRequest struct {
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id"`
}

func (r *Router) handleBreakerTrip(c *gin.Context) {
	var req breakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "manual trip"
	}
	r.svc.TripBreaker(c.Request.Context(), req.Reason, req.OperatorID)
	logger.Warnf("[api] breaker tripped ip=%s reason=%s operator=%s", c.ClientIP(), req.Reason, req.OperatorID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleBreakerReset(c *gin.Context) {
	var req breakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if err := r.svc.ResetBreaker(c.Request.Context(), req.OperatorID); err != nil {
		logger.Errorf("[api] breaker reset persist failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] breaker reset ip=%s operator=%s", c.ClientIP(), req.OperatorID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleSessionReport(c *gin.Context) {
	var m types.SessionMetrics
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if m.SessionDate.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_date 必填"})
		return
	}
	r.tracker.Report(m)
	logger.Infof("[api] session reported ip=%s date=%s trades=%d pnl=%.2f", c.ClientIP(), m.SessionDate.UTC().Format("2006-01-02"), m.TradesExecuted, m.TotalPnL)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
