package pretrade

import (
	"errors"
	"sync"
	"time"

	"riskcore/internal/logger"
	"riskcore/internal/types"
)

// Breaker 是一个手动复位的熔断闩：一旦触发，所有交易被拒，
// 直到操作员显式复位。状态落盘，但内存状态始终是权威，
// 持久化失败只记日志不回滚（可用性优先于持久性）。
type Breaker struct {
	mu    sync.Mutex
	state types.BreakerState
	store BreakerStore
	nowFn func() time.Time
}

// NewBreaker 加载持久化状态构建熔断器。
// 从未持久化过 → 未触发（首次运行）；状态不可读 → 强制触发：
// 状态未知时宁可停止交易，也不盲目放行。
func NewBreaker(store BreakerStore) *Breaker {
	b := &Breaker{store: store, nowFn: time.Now}
	state, err := store.Load()
	switch {
	case err == nil:
		b.state = state
	case errors.Is(err, ErrNoState):
		// 首次运行，保持未触发
	default:
		now := b.nowFn().UTC()
		b.state = types.BreakerState{
			Active:      true,
			TriggeredAt: &now,
			Reason:      "breaker state unreadable; manual reset required",
		}
		logger.Errorf("breaker state load failed, trading halted: %v", err)
	}
	return b
}

// Active 报告熔断器是否已触发。
func (b *Breaker) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Active
}

// State 返回当前状态快照。
func (b *Breaker) State() types.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trip 触发熔断并持久化。持久化失败被吞掉，内存状态已生效。
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	now := b.nowFn().UTC()
	b.state = types.BreakerState{
		Active:      true,
		TriggeredAt: &now,
		Reason:      reason,
	}
	state := b.state
	b.mu.Unlock()

	logger.Warnf("circuit breaker tripped: %s", reason)
	if err := b.store.Save(state); err != nil {
		logger.Errorf("persist breaker state failed (in-memory state stands): %v", err)
	}
}

// Reset 仅限手动调用：清除熔断并持久化。内存状态先行生效，
// 持久化失败通过返回值上报但不回滚。
func (b *Breaker) Reset() error {
	b.mu.Lock()
	now := b.nowFn().UTC()
	b.state = types.BreakerState{
		Active:  false,
		ResetAt: &now,
	}
	state := b.state
	b.mu.Unlock()

	logger.Infof("circuit breaker reset manually")
	if err := b.store.Save(state); err != nil {
		logger.Errorf("persist breaker reset failed (in-memory state stands): %v", err)
		return err
	}
	return nil
}
