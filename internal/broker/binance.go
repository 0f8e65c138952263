package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// AccountSource 提供当前可用购买力，由券商接入层实现。
type AccountSource interface {
	BuyingPower(ctx context.Context) (float64, error)
}

// BinanceConfig 描述 binance 合约账户接入方式。
type BinanceConfig struct {
	RESTBaseURL string
	APIKey      string
	APISecret   string
	HTTPTimeout time.Duration
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	out := c
	if strings.TrimSpace(out.RESTBaseURL) == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 10 * time.Second
	}
	return out
}

// BinanceSource 基于 go-binance SDK 读取合约账户可用余额。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &BinanceSource{client: client}
}

func (s *BinanceSource) BuyingPower(ctx context.Context) (float64, error) {
	account, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch binance account failed: %w", err)
	}
	available, err := strconv.ParseFloat(account.AvailableBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("parse available balance %q failed: %w", account.AvailableBalance, err)
	}
	return available, nil
}

// StaticSource 返回固定购买力，用于模拟盘。
type StaticSource struct {
	USD float64
}

func (s StaticSource) BuyingPower(ctx context.Context) (float64, error) {
	return s.USD, nil
}
