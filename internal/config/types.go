package config

import "strings"

// Config 是 riskcore 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Storage StorageConfig `toml:"storage"`
	Trading TradingConfig `toml:"trading"`
	Broker  BrokerConfig  `toml:"broker"`
	Policy  PolicyConfig  `toml:"policy"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// StorageConfig 描述各持久化位置。
type StorageConfig struct {
	AuditBackend     string  `toml:"audit_backend"` // "file" | "sqlite"
	AuditDir         string  `toml:"audit_dir"`
	AuditDBPath      string  `toml:"audit_db_path"`
	HistoryDBPath    string  `toml:"history_db_path"`
	BreakerStatePath string  `toml:"breaker_state_path"`
	BaseEquityUSD    float64 `toml:"base_equity_usd"`
}

// TradingConfig 控制交易时段与风控编排行为。
type TradingConfig struct {
	Timezone                string  `toml:"timezone"`
	SessionOpen             string  `toml:"session_open"`
	SessionClose            string  `toml:"session_close"`
	AlwaysOpen              bool    `toml:"always_open"`
	AllowOverride           bool    `toml:"allow_override"`
	DailyLossLimitUSD       float64 `toml:"daily_loss_limit_usd"`
	MaxConsecutiveLosses    int     `toml:"max_consecutive_losses"`
	RollingWindow           int     `toml:"rolling_window"`
	SessionEndOffsetSeconds int     `toml:"session_end_offset_seconds"`
}

// BrokerConfig 描述购买力来源。
type BrokerConfig struct {
	Mode                 string        `toml:"mode"` // "static" | "binance"
	StaticBuyingPowerUSD float64       `toml:"static_buying_power_usd"`
	Binance              BinanceConfig `toml:"binance"`
}

type BinanceConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PolicyConfig 指向可选的阶段策略文件；为空时使用内置默认表。
type PolicyConfig struct {
	Path string `toml:"path"`
}

// IsBinance 报告购买力是否来自 binance 账户。
func (b BrokerConfig) IsBinance() bool {
	return strings.EqualFold(strings.TrimSpace(b.Mode), "binance")
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
