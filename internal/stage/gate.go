package stage

import (
	"fmt"

	"riskcore/internal/policy"
	"riskcore/internal/types"
)

// Gate 把跨会话绩效指标映射为某个晋级目标的通过/不通过判定。
// 纯函数语义：同样的输入永远得到同样的输出。
type Gate struct {
	policies *policy.Registry
}

func NewGate(policies *policy.Registry) *Gate {
	return &Gate{policies: policies}
}

// Evaluate 按 AND 组合校验 target 阶段的全部门槛。
// 除 max_drawdown 为严格小于外，其余比较均为包含式 >=，
// 边界值用十进制精确比较，避免浮点在阈值上的误判。
func (g *Gate) Evaluate(target types.Stage, m types.ProgressMetrics) (types.ValidationResult, error) {
	thresholds, ok := g.policies.Snapshot().GateFor(target)
	if !ok {
		return types.ValidationResult{}, fmt.Errorf("no gate defined for target stage %s", target)
	}
	return evaluate(thresholds, m), nil
}

func evaluate(t policy.GateThresholds, m types.ProgressMetrics) types.ValidationResult {
	met := make(map[string]bool)
	if t.MinSessions > 0 {
		met[types.CriterionSessionCount] = m.SessionCount >= t.MinSessions
	}
	if t.MinTrades > 0 {
		met[types.CriterionTradeCount] = m.TradeCount >= t.MinTrades
	}
	if t.MinWinRate > 0 {
		met[types.CriterionWinRate] = decimalGTE(m.WinRate, t.MinWinRate)
	}
	if t.MinAvgRR > 0 {
		met[types.CriterionAvgRiskReward] = decimalGTE(m.AvgRiskReward, t.MinAvgRR)
	}
	if t.MaxDrawdown > 0 {
		met[types.CriterionMaxDrawdown] = decimalLT(m.MaxDrawdown, t.MaxDrawdown)
	}

	result := types.ValidationResult{
		CanAdvance:     true,
		CriteriaMet:    met,
		MetricsSummary: m,
	}
	// missing_requirements 按规范顺序列出全部未达标项。
	for _, name := range types.CriteriaOrder() {
		passed, evaluated := met[name]
		if !evaluated {
			continue
		}
		if !passed {
			result.CanAdvance = false
			result.MissingRequirements = append(result.MissingRequirements, name)
		}
	}
	return result
}
