package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"riskcore/internal/types"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const dateLayout = "2006-01-02"

// Store 持久化会话绩效并聚合出晋级门槛所需的跨会话指标。
type Store struct {
	db         *gorm.DB
	baseEquity float64
}

// NewStore 打开（或创建）会话历史库。baseEquity 是回撤计算的初始权益，
// 必须为正。
func NewStore(path string, baseEquity float64) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history database path cannot be empty")
	}
	if baseEquity <= 0 {
		return nil, fmt.Errorf("base equity must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SessionMetricsModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db, baseEquity: baseEquity}, nil
}

// NewStoreFromDB 复用外部 gorm 连接（测试用）。
func NewStoreFromDB(db *gorm.DB, baseEquity float64) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&SessionMetricsModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db, baseEquity: baseEquity}, nil
}

// Record 写入（或按日期覆盖）一条会话记录。
func (s *Store) Record(ctx context.Context, m types.SessionMetrics) error {
	sizes, err := json.Marshal(m.PositionSizes)
	if err != nil {
		return fmt.Errorf("marshal position sizes failed: %w", err)
	}
	now := time.Now().Unix()
	row := SessionMetricsModel{
		SessionDate:    m.SessionDate.Format(dateLayout),
		Stage:          m.Stage.String(),
		TradesExecuted: m.TradesExecuted,
		Wins:           m.Wins,
		Losses:         m.Losses,
		WinRate:        m.WinRate,
		AvgRiskReward:  m.AvgRiskReward,
		TotalPnL:       m.TotalPnL,
		PositionSizes:  sizes,
		BreakerTrips:   m.BreakerTrips,
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stage", "trades_executed", "wins", "losses", "win_rate",
			"avg_risk_reward", "total_pnl", "position_sizes", "breaker_trips", "updated_at",
		}),
	}).Create(&row).Error
}

// ProgressMetrics 聚合全部会话历史：会话数、总交易数、按交易加权的胜率、
// 平均盈亏比，以及由累计盈亏曲线推出的最大回撤。
func (s *Store) ProgressMetrics(ctx context.Context) (types.ProgressMetrics, error) {
	var rows []SessionMetricsModel
	if err := s.db.WithContext(ctx).Order("session_date asc").Find(&rows).Error; err != nil {
		return types.ProgressMetrics{}, fmt.Errorf("load session history failed: %w", err)
	}

	out := types.ProgressMetrics{SessionCount: len(rows)}
	if len(rows) == 0 {
		return out, nil
	}

	var wins, losses, rrSessions int
	var rrSum float64
	equity := s.baseEquity
	peak := equity
	maxDrawdown := 0.0
	for _, row := range rows {
		out.TradeCount += row.TradesExecuted
		wins += row.Wins
		losses += row.Losses
		if row.AvgRiskReward > 0 {
			rrSum += row.AvgRiskReward
			rrSessions++
		}
		equity += row.TotalPnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	if decided := wins + losses; decided > 0 {
		out.WinRate = float64(wins) / float64(decided)
	}
	if rrSessions > 0 {
		out.AvgRiskReward = rrSum / float64(rrSessions)
	}
	out.MaxDrawdown = maxDrawdown
	return out, nil
}

// RecentSessions 返回最近 n 条会话，按日期倒序。
func (s *Store) RecentSessions(ctx context.Context, n int) ([]types.SessionMetrics, error) {
	if n <= 0 {
		n = 10
	}
	var rows []SessionMetricsModel
	if err := s.db.WithContext(ctx).Order("session_date desc").Limit(n).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load recent sessions failed: %w", err)
	}
	out := make([]types.SessionMetrics, 0, len(rows))
	for _, row := range rows {
		m, err := toSessionMetrics(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RollingWinRate 按最近 n 条会话计算交易加权胜率。
func (s *Store) RollingWinRate(ctx context.Context, n int) (float64, error) {
	sessions, err := s.RecentSessions(ctx, n)
	if err != nil {
		return 0, err
	}
	var wins, decided int
	for _, m := range sessions {
		wins += m.Wins
		decided += m.Wins + m.Losses
	}
	if decided == 0 {
		return 0, nil
	}
	return float64(wins) / float64(decided), nil
}

func toSessionMetrics(row SessionMetricsModel) (types.SessionMetrics, error) {
	date, err := time.Parse(dateLayout, row.SessionDate)
	if err != nil {
		return types.SessionMetrics{}, fmt.Errorf("parse session date %q failed: %w", row.SessionDate, err)
	}
	stage, err := types.ParseStage(row.Stage)
	if err != nil {
		return types.SessionMetrics{}, err
	}
	var sizes []float64
	if len(row.PositionSizes) > 0 {
		if err := json.Unmarshal(row.PositionSizes, &sizes); err != nil {
			return types.SessionMetrics{}, fmt.Errorf("parse position sizes failed: %w", err)
		}
	}
	return types.SessionMetrics{
		SessionDate:    date,
		Stage:          stage,
		TradesExecuted: row.TradesExecuted,
		Wins:           row.Wins,
		Losses:         row.Losses,
		WinRate:        row.WinRate,
		AvgRiskReward:  row.AvgRiskReward,
		TotalPnL:       row.TotalPnL,
		PositionSizes:  sizes,
		BreakerTrips:   row.BreakerTrips,
	}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
