package audit

import (
	"context"
	"time"

	"riskcore/internal/types"
)

// Store 是审计日志的持久化接口：两条互相独立的追加流，
// 记录一经写入不再改写或删除。
type Store interface {
	LogTransition(ctx context.Context, t types.StageTransition) error
	LogOverrideAttempt(ctx context.Context, o types.OverrideAttempt) error

	// 区间查询按记录时间戳做日历日包含过滤，返回追加顺序。
	QueryTransitions(ctx context.Context, start, end time.Time) ([]types.StageTransition, error)
	QueryOverrideAttempts(ctx context.Context, start, end time.Time) ([]types.OverrideAttempt, error)

	Close() error
}

// inDateRange 判断 ts 所在日历日是否落在 [start, end] 内（按 UTC 日）。
func inDateRange(ts, start, end time.Time) bool {
	day := dateOf(ts)
	if !start.IsZero() && day.Before(dateOf(start)) {
		return false
	}
	if !end.IsZero() && day.After(dateOf(end)) {
		return false
	}
	return true
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
