package types

// 订单方向。
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// TradeRequest 描述一笔待校验的交易请求。
type TradeRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}
