package pretrade

import (
	"strings"
	"sync"
)

// PendingIndex 维护内存中的未决订单索引（symbol → side），
// 只用于重复下单检测；订单结束后由外部调用 Resolve 清除。
type PendingIndex struct {
	mu     sync.RWMutex
	orders map[string]string
}

func NewPendingIndex() *PendingIndex {
	return &PendingIndex{orders: make(map[string]string)}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Track 登记一笔未决订单。
func (p *PendingIndex) Track(symbol, side string) {
	p.mu.Lock()
	p.orders[normalizeSymbol(symbol)] = side
	p.mu.Unlock()
}

// IsPending 报告同一 symbol+side 是否已有未决订单。
func (p *PendingIndex) IsPending(symbol, side string) bool {
	p.mu.RLock()
	got, ok := p.orders[normalizeSymbol(symbol)]
	p.mu.RUnlock()
	return ok && got == side
}

// Resolve 订单完结，移除索引项。
func (p *PendingIndex) Resolve(symbol string) {
	p.mu.Lock()
	delete(p.orders, normalizeSymbol(symbol))
	p.mu.Unlock()
}

// Snapshot 返回当前索引副本，供状态接口展示。
func (p *PendingIndex) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.orders))
	for k, v := range p.orders {
		out[k] = v
	}
	return out
}
