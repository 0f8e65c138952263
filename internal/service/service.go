package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskcore/internal/audit"
	"riskcore/internal/broker"
	"riskcore/internal/history"
	"riskcore/internal/logger"
	"riskcore/internal/pretrade"
	"riskcore/internal/quota"
	"riskcore/internal/stage"
	"riskcore/internal/types"
)

// PerformanceTracker 是外部绩效跟踪器：按会话日期给出当日指标。
// second 返回值为 false 表示该日没有会话（休市等）。
type PerformanceTracker interface {
	SessionMetrics(ctx context.Context, sessionDate time.Time) (types.SessionMetrics, bool, error)
}

// ErrOverrideBlocked 表示配置禁止人工强制晋级。
var ErrOverrideBlocked = errors.New("manual override disabled by configuration")

// Config 控制编排层行为。
type Config struct {
	AllowOverride    bool
	RollingWindow    int
	SessionEndOffset time.Duration
}

// Service 把各自独立的风控组件编排成对交易机器人的统一入口。
// 组件之间只共享数据模型，不共享可变状态。
type Service struct {
	controller *stage.Controller
	gate       *pretrade.Gate
	quota      *quota.Enforcer
	auditLog   audit.Store
	history    *history.Store
	account    broker.AccountSource
	hours      *broker.Hours
	tracker    PerformanceTracker
	cfg        Config

	nowFn func() time.Time
}

func New(
	controller *stage.Controller,
	gate *pretrade.Gate,
	enforcer *quota.Enforcer,
	auditLog audit.Store,
	hist *history.Store,
	account broker.AccountSource,
	hours *broker.Hours,
	tracker PerformanceTracker,
	cfg Config,
) *Service {
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 10
	}
	return &Service{
		controller: controller,
		gate:       gate,
		quota:      enforcer,
		auditLog:   auditLog,
		history:    hist,
		account:    account,
		hours:      hours,
		tracker:    tracker,
		cfg:        cfg,
		nowFn:      time.Now,
	}
}

// Restore 从审计历史恢复当前阶段，启动时调用一次。
func (s *Service) Restore(ctx context.Context) error {
	transitions, err := s.auditLog.QueryTransitions(ctx, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("load transition history failed: %w", err)
	}
	if len(transitions) == 0 {
		logger.Infof("no transition history, starting at stage %s", s.controller.Current())
		return nil
	}
	last := transitions[len(transitions)-1]
	if err := s.controller.Restore(last.ToStage); err != nil {
		return err
	}
	logger.Infof("restored stage %s from audit history (%d transitions)", last.ToStage, len(transitions))
	return nil
}

// AdmitOptions 携带调用方已知的近期表现，用于仓位建议。
type AdmitOptions struct {
	ConsecutiveWins int
	RollingWinRate  float64
	PortfolioValue  float64
}

// AdmitResult 是一次交易准入的综合结论。
type AdmitResult struct {
	Allowed          bool       `json:"allowed"`
	Reason           string     `json:"reason,omitempty"`
	BreakerTriggered bool       `json:"breaker_triggered"`
	NextAllowed      *time.Time `json:"next_allowed,omitempty"`
	Stage            string     `json:"stage"`
	PositionSizeUSD  float64    `json:"position_size_usd"`
}

// AdmitTrade 执行完整准入：预交易校验 → 每日配额 → 仓位建议。
// 返回 error 仅表示调用方输入错误或协作方不可用；风控拒绝通过 AdmitResult 表达。
func (s *Service) AdmitTrade(ctx context.Context, req types.TradeRequest, opts AdmitOptions) (AdmitResult, error) {
	current := s.controller.Current()
	result := AdmitResult{Stage: current.String()}

	buyingPower, err := s.account.BuyingPower(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch buying power failed: %w", err)
	}

	decision, err := s.gate.Validate(ctx, req, buyingPower)
	if err != nil {
		return result, err
	}
	if !decision.IsSafe {
		result.Reason = decision.Reason
		result.BreakerTriggered = decision.BreakerTriggered
		return result, nil
	}

	today := s.nowFn().In(s.hours.Location())
	if err := s.controller.EnforceTradeLimit(current, today); err != nil {
		var quotaErr *quota.QuotaExceededError
		if errors.As(err, &quotaErr) {
			result.Reason = quotaErr.Error()
			result.NextAllowed = &quotaErr.NextAllowed
			return result, nil
		}
		return result, err
	}

	rolling := opts.RollingWinRate
	if rolling == 0 {
		if rolling, err = s.history.RollingWinRate(ctx, s.cfg.RollingWindow); err != nil {
			logger.Warnf("rolling win rate unavailable, sizing without hot-hand bonus: %v", err)
			rolling = 0
		}
	}
	portfolio := opts.PortfolioValue
	if portfolio <= 0 {
		portfolio = buyingPower
	}
	result.Allowed = true
	result.PositionSizeUSD = s.controller.PositionSize(current, opts.ConsecutiveWins, rolling, portfolio)

	s.gate.Pending().Track(req.Symbol, req.Side)
	return result, nil
}

// ResolveOrder 在订单完结后清除未决索引。
func (s *Service) ResolveOrder(symbol string) {
	s.gate.Pending().Resolve(symbol)
}

// CloseSession 在会话结束后执行：入库会话指标 → 降级判定 →（未降级时）
// 自动晋级判定 → 熔断原语 → 清理过期配额计数。
// 审计写入失败只记日志，已做出的决定不回退。
func (s *Service) CloseSession(ctx context.Context, sessionClose time.Time) {
	m, ok, err := s.tracker.SessionMetrics(ctx, sessionClose)
	if err != nil {
		logger.Errorf("fetch session metrics failed: %v", err)
		return
	}
	if !ok {
		logger.Debugf("no session on %s, skip evaluation", sessionClose.Format("2006-01-02"))
		return
	}
	if err := s.history.Record(ctx, m); err != nil {
		logger.Errorf("record session metrics failed: %v", err)
	}

	if target, reason, triggered := s.controller.CheckDowngradeTriggers(m); triggered {
		t, err := s.controller.ApplyDowngrade(target, reason, m)
		if err != nil {
			logger.Errorf("apply downgrade failed: %v", err)
		} else {
			logger.Warnf("stage downgraded %s -> %s (%s)", t.FromStage, t.ToStage, reason)
			s.persistTransition(ctx, t)
		}
	} else {
		s.tryAutoAdvance(ctx)
	}

	s.gate.CheckDailyLossLimit(m.TotalPnL)
	if m.Wins == 0 {
		s.gate.CheckConsecutiveLosses(m.Losses)
	}

	s.quota.ResetDailyCounter(sessionClose.AddDate(0, 0, 1))
}

func (s *Service) tryAutoAdvance(ctx context.Context) {
	current := s.controller.Current()
	target, ok := current.Next()
	if !ok {
		return
	}
	result, err := s.controller.ValidateTransition(ctx, target)
	if err != nil {
		logger.Errorf("validate transition failed: %v", err)
		return
	}
	if !result.CanAdvance {
		logger.Infof("stage %s holds, missing: %v", current, result.MissingRequirements)
		return
	}
	t, err := s.controller.AdvancePhase(ctx, target, false, "")
	if err != nil {
		logger.Errorf("auto advance failed: %v", err)
		return
	}
	logger.Infof("stage advanced %s -> %s (auto)", t.FromStage, t.ToStage)
	s.persistTransition(ctx, t)
}

// Advance 是操作员晋级入口。force=true 时绕过门槛并留下干预记录。
func (s *Service) Advance(ctx context.Context, target types.Stage, force bool, operatorID string) (*types.StageTransition, error) {
	if force && !s.cfg.AllowOverride {
		s.persistOverride(ctx, types.OverrideAttempt{
			Timestamp:  s.nowFn().UTC(),
			Stage:      s.controller.Current(),
			Action:     "force_advance",
			Blocked:    true,
			Reason:     "override disabled by configuration",
			OperatorID: operatorID,
		})
		return nil, ErrOverrideBlocked
	}
	t, err := s.controller.AdvancePhase(ctx, target, force, operatorID)
	if err != nil {
		return nil, err
	}
	s.persistTransition(ctx, t)
	if force {
		s.persistOverride(ctx, types.OverrideAttempt{
			Timestamp:  t.Timestamp,
			Stage:      t.FromStage,
			Action:     "force_advance",
			Blocked:    false,
			Reason:     fmt.Sprintf("forced advance to %s", target),
			OperatorID: operatorID,
		})
	}
	return t, nil
}

// Downgrade 是操作员降级入口。
func (s *Service) Downgrade(ctx context.Context, target types.Stage, reason, operatorID string) (*types.StageTransition, error) {
	last := types.SessionMetrics{}
	if recent, err := s.history.RecentSessions(ctx, 1); err == nil && len(recent) > 0 {
		last = recent[0]
	}
	t, err := s.controller.ApplyDowngrade(target, reason, last)
	if err != nil {
		return nil, err
	}
	t.OperatorID = operatorID
	s.persistTransition(ctx, t)
	s.persistOverride(ctx, types.OverrideAttempt{
		Timestamp:  t.Timestamp,
		Stage:      t.FromStage,
		Action:     "manual_downgrade",
		Blocked:    false,
		Reason:     reason,
		OperatorID: operatorID,
	})
	return t, nil
}

// TripBreaker 手动触发熔断。
func (s *Service) TripBreaker(ctx context.Context, reason, operatorID string) {
	s.gate.Breaker().Trip(reason)
	s.persistOverride(ctx, types.OverrideAttempt{
		Timestamp:  s.nowFn().UTC(),
		Stage:      s.controller.Current(),
		Action:     "breaker_trip",
		Blocked:    false,
		Reason:     reason,
		OperatorID: operatorID,
	})
}

// ResetBreaker 手动复位熔断，这是熔断恢复的唯一途径。
func (s *Service) ResetBreaker(ctx context.Context, operatorID string) error {
	err := s.gate.Breaker().Reset()
	s.persistOverride(ctx, types.OverrideAttempt{
		Timestamp:  s.nowFn().UTC(),
		Stage:      s.controller.Current(),
		Action:     "breaker_reset",
		Blocked:    false,
		Reason:     "manual reset",
		OperatorID: operatorID,
	})
	return err
}

// StatusSnapshot 是对外的状态快照。
type StatusSnapshot struct {
	Stage         string             `json:"stage"`
	QuotaUsed     int                `json:"quota_used"`
	QuotaLimit    int                `json:"quota_limit"`
	NextAllowed   *time.Time         `json:"next_allowed,omitempty"`
	Breaker       types.BreakerState `json:"breaker"`
	PendingOrders map[string]string  `json:"pending_orders"`
}

// Status 汇总当前阶段、配额占用与熔断状态。
func (s *Service) Status(ctx context.Context) StatusSnapshot {
	current := s.controller.Current()
	today := s.nowFn().In(s.hours.Location())
	used, limit := s.quota.Usage(current, today)
	snap := StatusSnapshot{
		Stage:         current.String(),
		QuotaUsed:     used,
		QuotaLimit:    limit,
		Breaker:       s.gate.Breaker().State(),
		PendingOrders: s.gate.Pending().Snapshot(),
	}
	if next, blocked := s.quota.NextAllowedTrade(current, today); blocked {
		snap.NextAllowed = &next
	}
	return snap
}

// QueryTransitions 透传审计区间查询。
func (s *Service) QueryTransitions(ctx context.Context, start, end time.Time) ([]types.StageTransition, error) {
	return s.auditLog.QueryTransitions(ctx, start, end)
}

// QueryOverrideAttempts 透传干预记录查询。
func (s *Service) QueryOverrideAttempts(ctx context.Context, start, end time.Time) ([]types.OverrideAttempt, error) {
	return s.auditLog.QueryOverrideAttempts(ctx, start, end)
}

// RecentSessions 透传会话历史，供报表使用。
func (s *Service) RecentSessions(ctx context.Context, n int) ([]types.SessionMetrics, error) {
	return s.history.RecentSessions(ctx, n)
}

func (s *Service) persistTransition(ctx context.Context, t *types.StageTransition) {
	if err := s.auditLog.LogTransition(ctx, *t); err != nil {
		logger.Errorf("persist stage transition %s failed (decision stands): %v", t.ID, err)
	}
}

func (s *Service) persistOverride(ctx context.Context, o types.OverrideAttempt) {
	if err := s.auditLog.LogOverrideAttempt(ctx, o); err != nil {
		logger.Errorf("persist override attempt failed (decision stands): %v", err)
	}
}
