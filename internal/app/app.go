package app

import (
	"context"
	"fmt"
	"io"
	"time"

	rccfg "riskcore/internal/config"
	"riskcore/internal/logger"
	"riskcore/internal/scheduler"
	"riskcore/internal/service"
	riskhttp "riskcore/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与会话调度。
type App struct {
	cfg     *rccfg.Config
	svc     *service.Service
	httpSrv *riskhttp.Server
	sched   *scheduler.SessionScheduler

	closers []io.Closer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *rccfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与会话调度器，直到 ctx 取消或出现错误。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.svc == nil {
		return fmt.Errorf("risk service not initialized")
	}
	defer a.close()

	if err := a.svc.Restore(ctx); err != nil {
		return fmt.Errorf("restore stage from audit failed: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("risk http server error: %w", err)
			}
			return nil
		})
	}

	if a.sched != nil {
		sched := a.sched
		group.Go(func() error {
			sched.Start(func(sessionClose time.Time) {
				a.svc.CloseSession(ctx, sessionClose)
			})
			return nil
		})
	}

	return group.Wait()
}

// Service exposes the underlying risk service instance (for testing/replay harnesses).
func (a *App) Service() *service.Service {
	if a == nil {
		return nil
	}
	return a.svc
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.Warnf("close resource failed: %v", err)
		}
	}
}
