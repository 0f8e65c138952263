package pretrade

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"riskcore/internal/types"

	"github.com/shopspring/decimal"
)

// TradingHours 由券商/交易所接入层实现，回答当前是否在交易时段内。
type TradingHours interface {
	IsOpen(now time.Time) bool
}

// Decision 是一次预交易校验的结论。拒绝是决策，不是异常。
type Decision struct {
	IsSafe           bool   `json:"is_safe"`
	Reason           string `json:"reason,omitempty"`
	BreakerTriggered bool   `json:"breaker_triggered"`
}

// Config 定义熔断原语的阈值，零值表示对应原语不启用。
type Config struct {
	DailyLossLimitUSD    float64
	MaxConsecutiveLosses int
}

// Gate 执行独立的预交易校验流水线：输入校验 → 熔断 → 交易时段 →
// 购买力 → 重复订单，逐项短路。
type Gate struct {
	breaker *Breaker
	hours   TradingHours
	pending *PendingIndex
	cfg     Config
	nowFn   func() time.Time
}

func NewGate(breaker *Breaker, hours TradingHours, pending *PendingIndex, cfg Config) *Gate {
	return &Gate{
		breaker: breaker,
		hours:   hours,
		pending: pending,
		cfg:     cfg,
		nowFn:   time.Now,
	}
}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Validate 判定一笔交易当前是否安全。
// 返回 error 仅表示请求本身不合法（调用方错误）；交易层面的拒绝
// 通过 Decision 表达。
func (g *Gate) Validate(ctx context.Context, req types.TradeRequest, buyingPower float64) (Decision, error) {
	if err := validateRequest(req, buyingPower); err != nil {
		return Decision{}, err
	}

	if g.breaker.Active() {
		return Decision{
			IsSafe:           false,
			Reason:           fmt.Sprintf("circuit breaker active: %s", g.breaker.State().Reason),
			BreakerTriggered: true,
		}, nil
	}

	if !g.hours.IsOpen(g.nowFn()) {
		return Decision{IsSafe: false, Reason: "outside trading hours"}, nil
	}

	if req.Side == types.SideBuy {
		cost := decimal.NewFromFloat(req.Quantity).Mul(decimal.NewFromFloat(req.Price))
		if cost.GreaterThan(decimal.NewFromFloat(buyingPower)) {
			return Decision{
				IsSafe: false,
				Reason: fmt.Sprintf("insufficient buying power: need %s, have %s",
					cost.StringFixed(2), decimal.NewFromFloat(buyingPower).StringFixed(2)),
			}, nil
		}
	}

	if g.pending.IsPending(req.Symbol, req.Side) {
		return Decision{
			IsSafe: false,
			Reason: fmt.Sprintf("duplicate order: %s %s already pending", req.Side, req.Symbol),
		}, nil
	}

	return Decision{IsSafe: true}, nil
}

func validateRequest(req types.TradeRequest, buyingPower float64) error {
	if req.Symbol == "" || !symbolPattern.MatchString(req.Symbol) {
		return fmt.Errorf("%w: symbol must be non-empty alphanumeric, got %q", ErrInvalidRequest, req.Symbol)
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidRequest, req.Side)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	if req.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidRequest)
	}
	if buyingPower < 0 {
		return fmt.Errorf("%w: buying power cannot be negative", ErrInvalidRequest)
	}
	return nil
}

// CheckDailyLossLimit 是独立的熔断原语，不在 Validate 内自动调用。
// 当日亏损超过阈值时触发熔断，返回是否触发。
func (g *Gate) CheckDailyLossLimit(dailyPnL float64) bool {
	if g.cfg.DailyLossLimitUSD <= 0 {
		return false
	}
	if decimal.NewFromFloat(dailyPnL).LessThan(decimal.NewFromFloat(-g.cfg.DailyLossLimitUSD)) {
		g.breaker.Trip(fmt.Sprintf("daily loss limit breached: pnl=%.2f limit=%.2f",
			dailyPnL, g.cfg.DailyLossLimitUSD))
		return true
	}
	return false
}

// CheckConsecutiveLosses 是独立的熔断原语，不在 Validate 内自动调用。
func (g *Gate) CheckConsecutiveLosses(count int) bool {
	if g.cfg.MaxConsecutiveLosses <= 0 {
		return false
	}
	if count >= g.cfg.MaxConsecutiveLosses {
		g.breaker.Trip(fmt.Sprintf("consecutive losses reached %d (limit %d)",
			count, g.cfg.MaxConsecutiveLosses))
		return true
	}
	return false
}

// Breaker 暴露底层熔断器，供手动触发/复位与状态快照。
func (g *Gate) Breaker() *Breaker {
	return g.breaker
}

// Pending 暴露未决订单索引。
func (g *Gate) Pending() *PendingIndex {
	return g.pending
}
