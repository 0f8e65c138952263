package quota

import (
	"fmt"
	"sync"
	"time"

	"riskcore/internal/policy"
	"riskcore/internal/types"
)

const dateLayout = "2006-01-02"

// SessionClock 给出下一个交易时段的开盘时刻，由 broker.Hours 实现。
type SessionClock interface {
	NextOpen(after time.Time) time.Time
}

// QuotaExceededError 表示当日交易配额已用尽，携带下次可交易时刻。
type QuotaExceededError struct {
	Stage       types.Stage
	Limit       int
	NextAllowed time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily trade quota exceeded for stage %s (limit=%d, next allowed %s)",
		e.Stage, e.Limit, e.NextAllowed.Format(time.RFC3339))
}

// Enforcer 按阶段执行每日交易次数准入控制。
// 不限额的阶段不分配计数器，内存占用有界。
type Enforcer struct {
	policies *policy.Registry
	clock    SessionClock

	mu     sync.Mutex
	counts map[string]map[types.Stage]int
}

func NewEnforcer(policies *policy.Registry, clock SessionClock) *Enforcer {
	return &Enforcer{
		policies: policies,
		clock:    clock,
		counts:   make(map[string]map[types.Stage]int),
	}
}

// CheckLimit 校验并占用一次配额。成功时计数加一；超额返回 *QuotaExceededError。
func (e *Enforcer) CheckLimit(stage types.Stage, date time.Time) error {
	limit := e.policies.Snapshot().QuotaFor(stage)
	if limit == policy.UnlimitedQuota {
		return nil
	}
	key := date.Format(dateLayout)

	e.mu.Lock()
	defer e.mu.Unlock()
	day := e.counts[key]
	if day == nil {
		day = make(map[types.Stage]int)
		e.counts[key] = day
	}
	if day[stage] >= limit {
		return &QuotaExceededError{
			Stage:       stage,
			Limit:       limit,
			NextAllowed: e.nextAllowed(date),
		}
	}
	day[stage]++
	return nil
}

// NextAllowedTrade 是 CheckLimit 的只读投影：配额未满时返回 false，
// 已满后当日每次调用都返回同一开盘时刻。
func (e *Enforcer) NextAllowedTrade(stage types.Stage, date time.Time) (time.Time, bool) {
	limit := e.policies.Snapshot().QuotaFor(stage)
	if limit == policy.UnlimitedQuota {
		return time.Time{}, false
	}
	key := date.Format(dateLayout)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts[key][stage] < limit {
		return time.Time{}, false
	}
	return e.nextAllowed(date), true
}

// Usage 返回指定阶段当日已用次数与限额，供状态快照使用。
func (e *Enforcer) Usage(stage types.Stage, date time.Time) (used, limit int) {
	limit = e.policies.Snapshot().QuotaFor(stage)
	e.mu.Lock()
	used = e.counts[date.Format(dateLayout)][stage]
	e.mu.Unlock()
	return used, limit
}

// ResetDailyCounter 丢弃 today 之前所有日期的计数器。
func (e *Enforcer) ResetDailyCounter(today time.Time) {
	cutoff := today.Format(dateLayout)
	e.mu.Lock()
	for key := range e.counts {
		if key < cutoff {
			delete(e.counts, key)
		}
	}
	e.mu.Unlock()
}

// nextAllowed 计算次日开盘时刻。调用方持锁与否均可，本身无状态。
func (e *Enforcer) nextAllowed(date time.Time) time.Time {
	endOfDay := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, date.Location())
	return e.clock.NextOpen(endOfDay)
}
