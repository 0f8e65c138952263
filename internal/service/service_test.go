package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"riskcore/internal/audit"
	"riskcore/internal/broker"
	"riskcore/internal/history"
	"riskcore/internal/policy"
	"riskcore/internal/pretrade"
	"riskcore/internal/quota"
	"riskcore/internal/stage"
	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccountSource struct {
	mock.Mock
}

func (m *MockAccountSource) BuyingPower(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) SessionMetrics(ctx context.Context, sessionDate time.Time) (types.SessionMetrics, bool, error) {
	args := m.Called(ctx, sessionDate)
	return args.Get(0).(types.SessionMetrics), args.Bool(1), args.Error(2)
}

type fixture struct {
	svc     *Service
	audit   audit.Store
	hist    *history.Store
	gate    *pretrade.Gate
	account *MockAccountSource
	tracker *MockTracker
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
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
	gate := pretrade.NewGate(pretrade.NewBreaker(breakerStore), hours, pretrade.NewPendingIndex(), pretrade.Config{
		DailyLossLimitUSD:    500,
		MaxConsecutiveLosses: 3,
	})

	enforcer := quota.NewEnforcer(reg, hours)
	controller := stage.NewController(stage.NewGate(reg), reg, hist, enforcer)
	account := new(MockAccountSource)
	tracker := new(MockTracker)

	svc := New(controller, gate, enforcer, auditLog, hist, account, hours, tracker, cfg)
	return &fixture{svc: svc, audit: auditLog, hist: hist, gate: gate, account: account, tracker: tracker}
}

// seedStage 通过审计历史把服务恢复到指定阶段，顺带覆盖 Restore 路径。
func seedStage(t *testing.T, f *fixture, target types.Stage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.audit.LogTransition(ctx, types.StageTransition{
		ID:        "seed",
		Timestamp: time.Now().UTC(),
		FromStage: types.StageExperience,
		ToStage:   target,
		Trigger:   types.TriggerManual,
	}))
	require.NoError(t, f.svc.Restore(ctx))
}

func buyRequest() types.TradeRequest {
	return types.TradeRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 1, Price: 100}
}

func TestService_AdmitTrade(t *testing.T) {
	ctx := context.Background()

	t.Run("Allowed With Position Size", func(t *testing.T) {
		f := newFixture(t, Config{})
		seedStage(t, f, types.StageRealMoneyTrial)
		f.account.On("BuyingPower", mock.Anything).Return(10000.0, nil)

		result, err := f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{RollingWinRate: 0.6})
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, "real_money_trial", result.Stage)
		assert.Equal(t, 200.0, result.PositionSizeUSD)
		// 准入成功后订单进入未决索引，重复提交被拒
		result, err = f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{RollingWinRate: 0.6})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Reason, "duplicate order")
	})

	t.Run("Rejected By Breaker", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.account.On("BuyingPower", mock.Anything).Return(10000.0, nil)
		f.gate.Breaker().Trip("test")

		result, err := f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.True(t, result.BreakerTriggered)
	})

	t.Run("Quota Exhausted", func(t *testing.T) {
		f := newFixture(t, Config{})
		seedStage(t, f, types.StageProofOfConcept)
		f.account.On("BuyingPower", mock.Anything).Return(10000.0, nil)

		first, err := f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{RollingWinRate: 0.6})
		require.NoError(t, err)
		require.True(t, first.Allowed)
		f.svc.ResolveOrder("BTCUSDT")

		second, err := f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{RollingWinRate: 0.6})
		require.NoError(t, err)
		assert.False(t, second.Allowed)
		assert.Contains(t, second.Reason, "quota exceeded")
		require.NotNil(t, second.NextAllowed)
	})

	t.Run("Account Failure Is An Error", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.account.On("BuyingPower", mock.Anything).Return(0.0, assert.AnError)
		_, err := f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{})
		assert.Error(t, err)
	})
}

func TestService_Advance(t *testing.T) {
	ctx := context.Background()

	t.Run("Force Blocked When Override Disabled", func(t *testing.T) {
		f := newFixture(t, Config{AllowOverride: false})
		_, err := f.svc.Advance(ctx, types.StageProofOfConcept, true, "ops-1")
		require.ErrorIs(t, err, ErrOverrideBlocked)

		attempts, err := f.svc.QueryOverrideAttempts(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.True(t, attempts[0].Blocked)
		assert.Equal(t, "force_advance", attempts[0].Action)
		assert.Equal(t, "ops-1", attempts[0].OperatorID)
	})

	t.Run("Force Advance Persists Transition And Override", func(t *testing.T) {
		f := newFixture(t, Config{AllowOverride: true})
		tr, err := f.svc.Advance(ctx, types.StageProofOfConcept, true, "ops-1")
		require.NoError(t, err)
		assert.True(t, tr.OverrideUsed)

		transitions, err := f.svc.QueryTransitions(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, transitions, 1)
		assert.Equal(t, types.TriggerManual, transitions[0].Trigger)

		attempts, err := f.svc.QueryOverrideAttempts(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.False(t, attempts[0].Blocked)
	})

	t.Run("Unforced Advance Needs No Override Record", func(t *testing.T) {
		f := newFixture(t, Config{})
		// 空历史不满足 PoC 门槛
		_, err := f.svc.Advance(ctx, types.StageProofOfConcept, false, "")
		var valErr *stage.ValidationError
		require.ErrorAs(t, err, &valErr)
		attempts, err := f.svc.QueryOverrideAttempts(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, attempts)
	})
}

func TestService_CloseSession(t *testing.T) {
	ctx := context.Background()
	sessionClose := time.Date(2025, 4, 1, 23, 0, 0, 0, time.UTC)

	t.Run("No Session Skips Evaluation", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.tracker.On("SessionMetrics", mock.Anything, sessionClose).Return(types.SessionMetrics{}, false, nil)
		f.svc.CloseSession(ctx, sessionClose)
		transitions, err := f.svc.QueryTransitions(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, transitions)
	})

	t.Run("Downgrade On Loss Streak", func(t *testing.T) {
		f := newFixture(t, Config{AllowOverride: true})
		seedStage(t, f, types.StageRealMoneyTrial)
		m := types.SessionMetrics{
			SessionDate:    sessionClose,
			Stage:          types.StageRealMoneyTrial,
			TradesExecuted: 3, Wins: 0, Losses: 3, WinRate: 0, TotalPnL: -90,
		}
		f.tracker.On("SessionMetrics", mock.Anything, sessionClose).Return(m, true, nil)

		f.svc.CloseSession(ctx, sessionClose)

		transitions, err := f.svc.QueryTransitions(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, transitions, 2) // seed + downgrade
		down := transitions[1]
		assert.Equal(t, types.StageRealMoneyTrial, down.FromStage)
		assert.Equal(t, types.StageProofOfConcept, down.ToStage)
		assert.Equal(t, types.TriggerAuto, down.Trigger)
		assert.Equal(t, []string{stage.ReasonConsecutiveLosses}, down.FailureReasons)
		// 3 连败同时触发熔断原语
		assert.True(t, f.gate.Breaker().Active())
		// 会话入库
		sessions, err := f.svc.RecentSessions(ctx, 5)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, -90.0, sessions[0].TotalPnL)
	})

	t.Run("Daily Loss Trips Breaker Without Downgrade", func(t *testing.T) {
		f := newFixture(t, Config{})
		m := types.SessionMetrics{
			SessionDate:    sessionClose,
			Stage:          types.StageExperience,
			TradesExecuted: 6, Wins: 2, Losses: 4, WinRate: 1.0 / 3.0, TotalPnL: -600,
		}
		f.tracker.On("SessionMetrics", mock.Anything, sessionClose).Return(m, true, nil)

		f.svc.CloseSession(ctx, sessionClose)

		// Experience 不降级，但当日亏损超限必须熔断
		transitions, err := f.svc.QueryTransitions(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, transitions)
		assert.True(t, f.gate.Breaker().Active())
	})
}

func TestService_BreakerOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	f.svc.TripBreaker(ctx, "suspicious fills", "ops-2")
	assert.True(t, f.gate.Breaker().Active())

	require.NoError(t, f.svc.ResetBreaker(ctx, "ops-2"))
	assert.False(t, f.gate.Breaker().Active())

	attempts, err := f.svc.QueryOverrideAttempts(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "breaker_trip", attempts[0].Action)
	assert.Equal(t, "breaker_reset", attempts[1].Action)
}

func TestService_Status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	seedStage(t, f, types.StageProofOfConcept)
	f.account.On("BuyingPower", mock.Anything).Return(10000.0, nil)

	result, err := f.svc.AdmitTrade(ctx, buyRequest(), AdmitOptions{RollingWinRate: 0.6})
	require.NoError(t, err)
	require.True(t, result.Allowed)

	snap := f.svc.Status(ctx)
	assert.Equal(t, "proof_of_concept", snap.Stage)
	assert.Equal(t, 1, snap.QuotaUsed)
	assert.Equal(t, 1, snap.QuotaLimit)
	require.NotNil(t, snap.NextAllowed)
	assert.Equal(t, map[string]string{"BTCUSDT": types.SideBuy}, snap.PendingOrders)
	assert.False(t, snap.Breaker.Active)
}
