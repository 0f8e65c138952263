package policy

import (
	"riskcore/internal/types"
)

// GateThresholds 定义单个晋级门槛。零值字段表示该项不参与校验。
// MaxDrawdown 为严格小于，其余均为包含式大于等于。
type GateThresholds struct {
	MinSessions int     `mapstructure:"min_sessions" yaml:"min_sessions"`
	MinTrades   int     `mapstructure:"min_trades" yaml:"min_trades"`
	MinWinRate  float64 `mapstructure:"min_win_rate" yaml:"min_win_rate"`
	MinAvgRR    float64 `mapstructure:"min_avg_rr" yaml:"min_avg_rr"`
	MaxDrawdown float64 `mapstructure:"max_drawdown" yaml:"max_drawdown"`
}

// SizingPolicy 定义各阶段仓位策略。
type SizingPolicy struct {
	ProofOfConceptUSD float64 `mapstructure:"proof_of_concept_usd" yaml:"proof_of_concept_usd"`
	TrialUSD          float64 `mapstructure:"trial_usd" yaml:"trial_usd"`
	ScalingBaseUSD    float64 `mapstructure:"scaling_base_usd" yaml:"scaling_base_usd"`
	StreakGroupSize   int     `mapstructure:"streak_group_size" yaml:"streak_group_size"`
	StreakBonusUSD    float64 `mapstructure:"streak_bonus_usd" yaml:"streak_bonus_usd"`
	HotHandWinRate    float64 `mapstructure:"hot_hand_win_rate" yaml:"hot_hand_win_rate"`
	HotHandBonusUSD   float64 `mapstructure:"hot_hand_bonus_usd" yaml:"hot_hand_bonus_usd"`
	ScalingCapUSD     float64 `mapstructure:"scaling_cap_usd" yaml:"scaling_cap_usd"`
	PortfolioCapPct   float64 `mapstructure:"portfolio_cap_pct" yaml:"portfolio_cap_pct"`
}

// DowngradePolicy 定义自动降级触发阈值。
type DowngradePolicy struct {
	MinLossStreak int     `mapstructure:"min_loss_streak" yaml:"min_loss_streak"`
	MinWinRate    float64 `mapstructure:"min_win_rate" yaml:"min_win_rate"`
	MaxAbsLossUSD float64 `mapstructure:"max_abs_loss_usd" yaml:"max_abs_loss_usd"`
}

// UnlimitedQuota 表示该阶段不限制每日交易次数。
const UnlimitedQuota = -1

// Document 映射 policy 配置文件。
type Document struct {
	Gates     map[string]GateThresholds `mapstructure:"gates" yaml:"gates"`
	Quotas    map[string]int            `mapstructure:"quotas" yaml:"quotas"`
	Sizing    SizingPolicy              `mapstructure:"sizing" yaml:"sizing"`
	Downgrade DowngradePolicy           `mapstructure:"downgrade" yaml:"downgrade"`
}

// Defaults 返回与内置阈值表一致的策略文档。
func Defaults() Document {
	return Document{
		Gates: map[string]GateThresholds{
			types.StageProofOfConcept.String(): {
				MinSessions: 20,
				MinWinRate:  0.60,
				MinAvgRR:    1.5,
			},
			types.StageRealMoneyTrial.String(): {
				MinSessions: 30,
				MinTrades:   50,
				MinWinRate:  0.65,
				MinAvgRR:    1.8,
			},
			types.StageScaling.String(): {
				MinSessions: 60,
				MinTrades:   100,
				MinWinRate:  0.70,
				MinAvgRR:    2.0,
				MaxDrawdown: 0.05,
			},
		},
		Quotas: map[string]int{
			types.StageExperience.String():     UnlimitedQuota,
			types.StageProofOfConcept.String(): 1,
			types.StageRealMoneyTrial.String(): UnlimitedQuota,
			types.StageScaling.String():        UnlimitedQuota,
		},
		Sizing: SizingPolicy{
			ProofOfConceptUSD: 100,
			TrialUSD:          200,
			ScalingBaseUSD:    200,
			StreakGroupSize:   5,
			StreakBonusUSD:    100,
			HotHandWinRate:    0.70,
			HotHandBonusUSD:   200,
			ScalingCapUSD:     2000,
			PortfolioCapPct:   0.05,
		},
		Downgrade: DowngradePolicy{
			MinLossStreak: 3,
			MinWinRate:    0.55,
			MaxAbsLossUSD: 500,
		},
	}
}

// merge 用文件中显式给出的条目覆盖默认值，未提及的保持内置表。
func merge(base, override Document) Document {
	out := base
	for name, gate := range override.Gates {
		out.Gates = cloneGateMap(out.Gates)
		out.Gates[name] = gate
	}
	if len(override.Quotas) > 0 {
		quotas := make(map[string]int, len(base.Quotas)+len(override.Quotas))
		for k, v := range base.Quotas {
			quotas[k] = v
		}
		for k, v := range override.Quotas {
			quotas[k] = v
		}
		out.Quotas = quotas
	}
	if override.Sizing != (SizingPolicy{}) {
		out.Sizing = override.Sizing
	}
	if override.Downgrade != (DowngradePolicy{}) {
		out.Downgrade = override.Downgrade
	}
	return out
}

func cloneGateMap(src map[string]GateThresholds) map[string]GateThresholds {
	out := make(map[string]GateThresholds, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
