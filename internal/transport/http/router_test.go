package riskhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"riskcore/internal/audit"
	"riskcore/internal/broker"
	"riskcore/internal/history"
	"riskcore/internal/policy"
	"riskcore/internal/pretrade"
	"riskcore/internal/quota"
	"riskcore/internal/service"
	"riskcore/internal/stage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAccount struct {
	usd float64
}

func (s staticAccount) BuyingPower(_ context.Context) (float64, error) {
	return s.usd, nil
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	reg, err := policy.NewRegistry("")
	require.NoError(t, err)
	auditLog, err := audit.NewFileStore(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })
	hist, err := history.NewStore(filepath.Join(dir, "sessions.db"), 10000)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	hours, err := broker.NewHours(true, "07:00", "23:00", "UTC")
	require.NoError(t, err)
	breakerStore, err := pretrade.NewFileBreakerStore(filepath.Join(dir, "breaker.json"))
	require.NoError(t, err)
	gate := pretrade.NewGate(pretrade.NewBreaker(breakerStore), hours, pretrade.NewPendingIndex(), pretrade.Config{})

	enforcer := quota.NewEnforcer(reg, hours)
	controller := stage.NewController(stage.NewGate(reg), reg, hist, enforcer)
	tracker := service.NewManualTracker()

	svc := service.New(controller, gate, enforcer, auditLog, hist, staticAccount{usd: 10000}, hours, tracker, service.Config{})

	engine := gin.New()
	NewRouter(svc, tracker).Register(engine.Group("/api/risk"))
	return engine
}

func postJSON(engine *gin.Engine, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRouter_AdmitStatusCodes(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("Malformed Symbol Is Caller Error", func(t *testing.T) {
		rec := postJSON(engine, "/api/risk/admit", `{"symbol":"AAPL!!","side":"BUY","quantity":1,"price":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid trade request")
	})

	t.Run("Invalid Side Is Caller Error", func(t *testing.T) {
		rec := postJSON(engine, "/api/risk/admit", `{"symbol":"BTCUSDT","side":"HOLD","quantity":1,"price":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Valid Request Admitted", func(t *testing.T) {
		rec := postJSON(engine, "/api/risk/admit", `{"symbol":"BTCUSDT","side":"BUY","quantity":1,"price":100}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"allowed":true`)
	})
}

func TestRouter_DowngradeStatusCodes(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("Non Sequential Target Conflicts", func(t *testing.T) {
		// 初始阶段 experience 没有可降级的目标
		rec := postJSON(engine, "/api/risk/downgrade", `{"target":"scaling","reason":"manual","operator_id":"ops-1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Unknown Target Is Bad Request", func(t *testing.T) {
		rec := postJSON(engine, "/api/risk/downgrade", `{"target":"warp_speed","reason":"manual"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Missing Reason Is Bad Request", func(t *testing.T) {
		rec := postJSON(engine, "/api/risk/downgrade", `{"target":"experience"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
