package scheduler

import (
	"context"
	"time"

	"riskcore/internal/logger"
)

// SessionScheduler 在每个交易时段收盘后唤醒一次，驱动会话结算。
// NextClose 给出严格晚于某时刻的下一个收盘时刻，Offset 是收盘后的
// 额外等待（给绩效跟踪器留出汇总时间）。
type SessionScheduler struct {
	NextClose func(after time.Time) time.Time
	Offset    time.Duration

	ctx   context.Context
	nowFn func() time.Time
}

func NewSessionScheduler(ctx context.Context, nextClose func(after time.Time) time.Time, offset time.Duration) *SessionScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SessionScheduler{
		NextClose: nextClose,
		Offset:    offset,
		ctx:       ctx,
		nowFn:     time.Now,
	}
}

// Start 阻塞运行，每次收盘后以该收盘时刻调用 task。ctx 取消后返回。
func (s *SessionScheduler) Start(task func(sessionClose time.Time)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("SessionScheduler: task is nil, exit")
		return
	}
	if s.NextClose == nil {
		logger.Warnf("SessionScheduler: NextClose is nil, exit")
		return
	}
	if s.Offset < 0 {
		logger.Warnf("SessionScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn()
	logger.Infof("SessionScheduler: started offset=%s at=%s", s.Offset, startAt.UTC().Format(time.RFC3339))

	for {
		now := s.nowFn()
		sessionClose := s.NextClose(now)
		wakeAt := sessionClose.Add(s.Offset)
		wait := wakeAt.Sub(now)

		logger.Infof("SessionScheduler: next session close=%s wake=%s (in %s)",
			sessionClose.Format(time.RFC3339), wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				logger.Infof("SessionScheduler: ctx done, exit")
				return
			case <-timer.C:
			}
		}
		task(sessionClose)
	}
}
