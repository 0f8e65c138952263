package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"riskcore/internal/audit"
	"riskcore/internal/broker"
	rccfg "riskcore/internal/config"
	"riskcore/internal/history"
	"riskcore/internal/logger"
	"riskcore/internal/policy"
	"riskcore/internal/pretrade"
	"riskcore/internal/quota"
	"riskcore/internal/scheduler"
	"riskcore/internal/service"
	"riskcore/internal/stage"
	riskhttp "riskcore/internal/transport/http"
)

// AppBuilder 按依赖顺序装配风控核心。各构造函数可被测试替换。
type AppBuilder struct {
	cfg *rccfg.Config

	policyFn   func(string) (*policy.Registry, error)
	auditFn    func(rccfg.StorageConfig) (audit.Store, error)
	historyFn  func(rccfg.StorageConfig) (*history.Store, error)
	accountFn  func(rccfg.BrokerConfig) broker.AccountSource
	breakerFn  func(string) (*pretrade.Breaker, error)
	liveHTTPFn func(rccfg.AppConfig, *service.Service, *service.ManualTracker) (*riskhttp.Server, error)

	auditOverride   audit.Store
	accountOverride broker.AccountSource
	trackerOverride service.PerformanceTracker
}

type AppBuilderOption func(*AppBuilder)

// WithAuditStore 以外部审计存储替换配置驱动的构建。
func WithAuditStore(store audit.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.auditOverride = store }
}

// WithAccountSource 以外部购买力来源替换配置驱动的构建。
func WithAccountSource(src broker.AccountSource) AppBuilderOption {
	return func(b *AppBuilder) { b.accountOverride = src }
}

// WithPerformanceTracker 以外部绩效跟踪器替换内置的 HTTP 上报缓存。
func WithPerformanceTracker(tracker service.PerformanceTracker) AppBuilderOption {
	return func(b *AppBuilder) { b.trackerOverride = tracker }
}

func NewAppBuilder(cfg *rccfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		policyFn:   policy.NewRegistry,
		auditFn:    buildAuditStore,
		historyFn:  buildHistoryStore,
		accountFn:  buildAccountSource,
		breakerFn:  buildBreaker,
		liveHTTPFn: buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildAuditStore(cfg rccfg.StorageConfig) (audit.Store, error) {
	if cfg.AuditBackend == "sqlite" {
		return audit.NewSQLiteStore(cfg.AuditDBPath)
	}
	return audit.NewFileStore(cfg.AuditDir)
}

func buildHistoryStore(cfg rccfg.StorageConfig) (*history.Store, error) {
	return history.NewStore(cfg.HistoryDBPath, cfg.BaseEquityUSD)
}

func buildAccountSource(cfg rccfg.BrokerConfig) broker.AccountSource {
	if cfg.IsBinance() {
		return broker.NewBinanceSource(broker.BinanceConfig{
			RESTBaseURL: cfg.Binance.RESTBaseURL,
			APIKey:      cfg.Binance.APIKey,
			APISecret:   cfg.Binance.APISecret,
			HTTPTimeout: time.Duration(cfg.Binance.TimeoutSeconds) * time.Second,
		})
	}
	return broker.StaticSource{USD: cfg.StaticBuyingPowerUSD}
}

func buildBreaker(path string) (*pretrade.Breaker, error) {
	store, err := pretrade.NewFileBreakerStore(path)
	if err != nil {
		return nil, err
	}
	return pretrade.NewBreaker(store), nil
}

func buildHTTPServer(cfg rccfg.AppConfig, svc *service.Service, tracker *service.ManualTracker) (*riskhttp.Server, error) {
	return riskhttp.NewServer(riskhttp.ServerConfig{
		Addr:    cfg.HTTPAddr,
		Service: svc,
		Tracker: tracker,
	})
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	policies, err := b.policyFn(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("load stage policy failed: %w", err)
	}
	if cfg.Policy.Path != "" {
		logger.Infof("✓ 阶段策略已加载: %s", cfg.Policy.Path)
	} else {
		logger.Infof("✓ 使用内置默认阶段策略")
	}

	var closers []io.Closer

	auditLog := b.auditOverride
	if auditLog == nil {
		auditLog, err = b.auditFn(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init audit store failed: %w", err)
		}
		closers = append(closers, auditLog)
	}
	logger.Infof("✓ 审计后端: %s", cfg.Storage.AuditBackend)

	hist, err := b.historyFn(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init session history failed: %w", err)
	}
	closers = append(closers, hist)

	hours, err := broker.NewHours(cfg.Trading.AlwaysOpen, cfg.Trading.SessionOpen, cfg.Trading.SessionClose, cfg.Trading.Timezone)
	if err != nil {
		return nil, fmt.Errorf("init trading hours failed: %w", err)
	}

	account := b.accountOverride
	if account == nil {
		account = b.accountFn(cfg.Broker)
	}
	logger.Infof("✓ 购买力来源: %s", cfg.Broker.Mode)

	breaker, err := b.breakerFn(cfg.Storage.BreakerStatePath)
	if err != nil {
		return nil, fmt.Errorf("init circuit breaker failed: %w", err)
	}
	if breaker.Active() {
		logger.Warnf("熔断器处于激活状态，需人工复位后才能交易")
	}

	preGate := pretrade.NewGate(breaker, hours, pretrade.NewPendingIndex(), pretrade.Config{
		DailyLossLimitUSD:    cfg.Trading.DailyLossLimitUSD,
		MaxConsecutiveLosses: cfg.Trading.MaxConsecutiveLosses,
	})

	enforcer := quota.NewEnforcer(policies, hours)
	stageGate := stage.NewGate(policies)
	controller := stage.NewController(stageGate, policies, hist, enforcer)

	var tracker service.PerformanceTracker
	manual := service.NewManualTracker()
	tracker = manual
	if b.trackerOverride != nil {
		tracker = b.trackerOverride
		manual = nil
	}

	svc := service.New(controller, preGate, enforcer, auditLog, hist, account, hours, tracker, service.Config{
		AllowOverride:    cfg.Trading.AllowOverride,
		RollingWindow:    cfg.Trading.RollingWindow,
		SessionEndOffset: time.Duration(cfg.Trading.SessionEndOffsetSeconds) * time.Second,
	})

	httpSrv, err := b.liveHTTPFn(cfg.App, svc, manual)
	if err != nil {
		return nil, fmt.Errorf("init http server failed: %w", err)
	}
	logger.Infof("✓ HTTP 服务监听 %s", httpSrv.Addr())

	var sched *scheduler.SessionScheduler
	if !cfg.Trading.AlwaysOpen {
		offset := time.Duration(cfg.Trading.SessionEndOffsetSeconds) * time.Second
		sched = scheduler.NewSessionScheduler(ctx, hours.SessionClose, offset)
	} else {
		logger.Infof("交易时段配置为全天开放，会话结算由外部触发")
	}

	return &App{
		cfg:     cfg,
		svc:     svc,
		httpSrv: httpSrv,
		sched:   sched,
		closers: closers,
	}, nil
}
