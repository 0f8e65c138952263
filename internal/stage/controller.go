package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskcore/internal/policy"
	"riskcore/internal/quota"
	"riskcore/internal/types"

	"github.com/google/uuid"
)

// 自动降级原因。
const (
	ReasonConsecutiveLosses = "consecutive_losses"
	ReasonLowWinRate        = "low_win_rate"
	ReasonExcessiveLoss     = "excessive_loss"
)

// MetricsSource 提供跨会话聚合绩效，由 history.Store 实现。
type MetricsSource interface {
	ProgressMetrics(ctx context.Context) (types.ProgressMetrics, error)
}

// Controller 持有唯一的当前阶段，负责晋级校验、阶段变更、降级判定与仓位策略。
// 它只构造 StageTransition 并返回，落审计日志由调用方完成。
type Controller struct {
	gate     *Gate
	policies *policy.Registry
	metrics  MetricsSource
	quota    *quota.Enforcer

	mu      sync.Mutex
	current types.Stage

	nowFn func() time.Time
}

func NewController(gate *Gate, policies *policy.Registry, metrics MetricsSource, enforcer *quota.Enforcer) *Controller {
	return &Controller{
		gate:     gate,
		policies: policies,
		metrics:  metrics,
		quota:    enforcer,
		current:  types.StageExperience,
		nowFn:    time.Now,
	}
}

// Current 返回当前阶段。
func (c *Controller) Current() types.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Restore 在启动时从审计历史恢复阶段，不产生转换记录。
func (c *Controller) Restore(stage types.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("cannot restore invalid stage %d", int(stage))
	}
	c.mu.Lock()
	c.current = stage
	c.mu.Unlock()
	return nil
}

// ValidateTransition 校验到 target 的晋级。target 必须恰好是当前阶段的后继。
func (c *Controller) ValidateTransition(ctx context.Context, target types.Stage) (types.ValidationResult, error) {
	current := c.Current()
	next, ok := current.Next()
	if !ok || next != target {
		return types.ValidationResult{}, &NonSequentialError{From: current, Target: target}
	}
	m, err := c.metrics.ProgressMetrics(ctx)
	if err != nil {
		return types.ValidationResult{}, fmt.Errorf("load progress metrics failed: %w", err)
	}
	return c.gate.Evaluate(target, m)
}

// AdvancePhase 执行晋级。force=false 时要求门槛全部通过，
// 否则返回携带完整校验结果的 *ValidationError。
// 成功时变更当前阶段并返回转换记录，由调用方持久化。
func (c *Controller) AdvancePhase(ctx context.Context, target types.Stage, force bool, operatorID string) (*types.StageTransition, error) {
	result, err := c.ValidateTransition(ctx, target)
	if err != nil {
		return nil, err
	}
	if !result.CanAdvance && !force {
		return nil, &ValidationError{Result: result}
	}

	trigger := types.TriggerAuto
	if force {
		trigger = types.TriggerManual
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// 持锁期间再核对一次，避免并发晋级把阶段推进两级。
	if next, ok := c.current.Next(); !ok || next != target {
		return nil, &NonSequentialError{From: c.current, Target: target}
	}
	t := &types.StageTransition{
		ID:               uuid.NewString(),
		Timestamp:        c.nowFn().UTC(),
		FromStage:        c.current,
		ToStage:          target,
		Trigger:          trigger,
		ValidationPassed: true,
		MetricsSnapshot:  result.MetricsSummary.Snapshot(),
		OperatorID:       operatorID,
		OverrideUsed:     force,
	}
	c.current = target
	return t, nil
}

// CheckDowngradeTriggers 评估单会话指标是否触发降级，首个命中生效。
// Experience 阶段永不降级。
func (c *Controller) CheckDowngradeTriggers(m types.SessionMetrics) (types.Stage, string, bool) {
	current := c.Current()
	prev, ok := current.Prev()
	if !ok {
		return current, "", false
	}
	d := c.policies.Snapshot().Doc.Downgrade
	switch {
	case m.Losses >= d.MinLossStreak && m.Wins == 0:
		return prev, ReasonConsecutiveLosses, true
	case decimalLT(m.WinRate, d.MinWinRate):
		return prev, ReasonLowWinRate, true
	case m.TotalPnL < 0 && decimalLT(m.TotalPnL, -d.MaxAbsLossUSD):
		return prev, ReasonExcessiveLoss, true
	}
	return current, "", false
}

// ApplyDowngrade 执行降级并返回转换记录，由调用方持久化。
func (c *Controller) ApplyDowngrade(target types.Stage, reason string, m types.SessionMetrics) (*types.StageTransition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.current.Prev()
	if !ok || prev != target {
		return nil, &NonSequentialError{From: c.current, Target: target}
	}
	t := &types.StageTransition{
		ID:               uuid.NewString(),
		Timestamp:        c.nowFn().UTC(),
		FromStage:        c.current,
		ToStage:          target,
		Trigger:          types.TriggerAuto,
		ValidationPassed: false,
		MetricsSnapshot:  m.Snapshot(),
		FailureReasons:   []string{reason},
	}
	c.current = target
	return t, nil
}

// PositionSize 按阶段与近期表现给出建议仓位（USD）。
func (c *Controller) PositionSize(stage types.Stage, consecutiveWins int, rollingWinRate, portfolioValue float64) float64 {
	s := c.policies.Snapshot().Doc.Sizing
	switch stage {
	case types.StageExperience:
		return 0
	case types.StageProofOfConcept:
		return s.ProofOfConceptUSD
	case types.StageRealMoneyTrial:
		return s.TrialUSD
	case types.StageScaling:
		size := s.ScalingBaseUSD
		if s.StreakGroupSize > 0 && consecutiveWins > 0 {
			size += float64(consecutiveWins/s.StreakGroupSize) * s.StreakBonusUSD
		}
		if decimalGTE(rollingWinRate, s.HotHandWinRate) {
			size += s.HotHandBonusUSD
		}
		limit := s.ScalingCapUSD
		if portfolioValue > 0 {
			if byPortfolio := s.PortfolioCapPct * portfolioValue; byPortfolio < limit {
				limit = byPortfolio
			}
		}
		if size > limit {
			size = limit
		}
		return size
	}
	return 0
}

// EnforceTradeLimit 原样委托给配额执行器。
func (c *Controller) EnforceTradeLimit(stage types.Stage, date time.Time) error {
	return c.quota.CheckLimit(stage, date)
}
