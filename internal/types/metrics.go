package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionMetrics 是外部绩效跟踪器在每个交易日结束时产出的会话指标，对本核心只读。
type SessionMetrics struct {
	SessionDate    time.Time `json:"session_date"`
	Stage          Stage     `json:"stage"`
	TradesExecuted int       `json:"trades_executed"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	WinRate        float64   `json:"win_rate"`
	AvgRiskReward  float64   `json:"avg_risk_reward"`
	TotalPnL       float64   `json:"total_pnl"`
	PositionSizes  []float64 `json:"position_sizes,omitempty"`
	BreakerTrips   int       `json:"breaker_trips"`
}

// ProgressMetrics 是跨会话聚合后的晋级指标。字段集合封闭，
// 缺字段在编译期暴露而不是运行时静默取零。
type ProgressMetrics struct {
	SessionCount  int     `json:"session_count"`
	TradeCount    int     `json:"trade_count"`
	WinRate       float64 `json:"win_rate"`
	AvgRiskReward float64 `json:"avg_risk_reward"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// 审计快照中的规范指标名，顺序即 missing_requirements 的规范顺序。
const (
	CriterionSessionCount  = "session_count"
	CriterionTradeCount    = "trade_count"
	CriterionWinRate       = "win_rate"
	CriterionAvgRiskReward = "avg_risk_reward"
	CriterionMaxDrawdown   = "max_drawdown"
)

func CriteriaOrder() []string {
	return []string{
		CriterionSessionCount,
		CriterionTradeCount,
		CriterionWinRate,
		CriterionAvgRiskReward,
		CriterionMaxDrawdown,
	}
}

// MetricsSnapshot 以精确十进制保存指标值，序列化为字符串避免二进制浮点精度损失。
type MetricsSnapshot map[string]decimal.Decimal

// Snapshot 将聚合指标转为审计用的精确十进制快照。
func (m ProgressMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CriterionSessionCount:  decimal.NewFromInt(int64(m.SessionCount)),
		CriterionTradeCount:    decimal.NewFromInt(int64(m.TradeCount)),
		CriterionWinRate:       decimal.NewFromFloat(m.WinRate),
		CriterionAvgRiskReward: decimal.NewFromFloat(m.AvgRiskReward),
		CriterionMaxDrawdown:   decimal.NewFromFloat(m.MaxDrawdown),
	}
}

// Snapshot 将单会话指标转为审计快照（降级记录使用）。
func (m SessionMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		"trades_executed": decimal.NewFromInt(int64(m.TradesExecuted)),
		"wins":            decimal.NewFromInt(int64(m.Wins)),
		"losses":          decimal.NewFromInt(int64(m.Losses)),
		CriterionWinRate:  decimal.NewFromFloat(m.WinRate),
		"total_pnl":       decimal.NewFromFloat(m.TotalPnL),
	}
}

// ValidationResult 描述一次门槛校验的结果，属临时对象，不落盘。
type ValidationResult struct {
	CanAdvance          bool            `json:"can_advance"`
	CriteriaMet         map[string]bool `json:"criteria_met"`
	MissingRequirements []string        `json:"missing_requirements"`
	MetricsSummary      ProgressMetrics `json:"metrics_summary"`
}
