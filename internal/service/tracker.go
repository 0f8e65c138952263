package service

import (
	"context"
	"sync"
	"time"

	"riskcore/internal/types"
)

// ManualTracker 接收执行层上报的会话指标，按交易日缓存，供会话
// 结算时读取。未上报的交易日视为无交易，结算照常跳过。
type ManualTracker struct {
	mu      sync.Mutex
	byDate  map[string]types.SessionMetrics
	maxDays int
}

func NewManualTracker() *ManualTracker {
	return &ManualTracker{byDate: make(map[string]types.SessionMetrics), maxDays: 14}
}

// Report 记录某交易日的会话指标，同日重复上报以最后一次为准。
func (t *ManualTracker) Report(m types.SessionMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byDate[m.SessionDate.UTC().Format("2006-01-02")] = m
	if len(t.byDate) > t.maxDays {
		oldest := ""
		for k := range t.byDate {
			if oldest == "" || k < oldest {
				oldest = k
			}
		}
		delete(t.byDate, oldest)
	}
}

// SessionMetrics 实现 PerformanceTracker。
func (t *ManualTracker) SessionMetrics(_ context.Context, sessionDate time.Time) (types.SessionMetrics, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byDate[sessionDate.UTC().Format("2006-01-02")]
	return m, ok, nil
}
