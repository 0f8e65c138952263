package history

import "gorm.io/datatypes"

// SessionMetricsModel 是会话绩效的 GORM 存储模型，每个交易日一条。
type SessionMetricsModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	SessionDate    string         `gorm:"column:session_date;uniqueIndex"`
	Stage          string         `gorm:"column:stage"`
	TradesExecuted int            `gorm:"column:trades_executed"`
	Wins           int            `gorm:"column:wins"`
	Losses         int            `gorm:"column:losses"`
	WinRate        float64        `gorm:"column:win_rate"`
	AvgRiskReward  float64        `gorm:"column:avg_risk_reward"`
	TotalPnL       float64        `gorm:"column:total_pnl"`
	PositionSizes  datatypes.JSON `gorm:"column:position_sizes;type:TEXT"`
	BreakerTrips   int            `gorm:"column:breaker_trips"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (SessionMetricsModel) TableName() string { return "session_metrics" }
