package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9992"
	defaultAppLogPath  = "/data/logs/riskcore.log"

	defaultAuditBackend  = "file"
	defaultAuditDir      = "/data/risk/audit"
	defaultAuditDBPath   = "/data/risk/audit.db"
	defaultHistoryDBPath = "/data/risk/sessions.db"
	defaultBreakerPath   = "/data/risk/breaker.json"
	defaultBaseEquity    = 10000

	defaultTimezone         = "America/New_York"
	defaultSessionOpen      = "07:00"
	defaultSessionClose     = "23:00"
	defaultDailyLossLimit   = 500
	defaultMaxConsecLosses  = 3
	defaultRollingWindow    = 10
	defaultSessionEndOffset = 300

	defaultBrokerMode        = "static"
	defaultStaticBuyingPower = 10000
	defaultBinanceREST       = "https://fapi.binance.com"
	defaultBinanceTimeout    = 10
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.audit_backend", &s.AuditBackend, defaultAuditBackend),
		stringFieldDefault("storage.audit_dir", &s.AuditDir, defaultAuditDir),
		stringFieldDefault("storage.audit_db_path", &s.AuditDBPath, defaultAuditDBPath),
		stringFieldDefault("storage.history_db_path", &s.HistoryDBPath, defaultHistoryDBPath),
		stringFieldDefault("storage.breaker_state_path", &s.BreakerStatePath, defaultBreakerPath),
		fieldDefault{
			key:   "storage.base_equity_usd",
			need:  func() bool { return s.BaseEquityUSD <= 0 },
			apply: func() { s.BaseEquityUSD = defaultBaseEquity },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.timezone", &t.Timezone, defaultTimezone),
		stringFieldDefault("trading.session_open", &t.SessionOpen, defaultSessionOpen),
		stringFieldDefault("trading.session_close", &t.SessionClose, defaultSessionClose),
		boolFieldDefault("trading.allow_override", &t.AllowOverride, true),
		fieldDefault{
			key:   "trading.daily_loss_limit_usd",
			need:  func() bool { return t.DailyLossLimitUSD <= 0 },
			apply: func() { t.DailyLossLimitUSD = defaultDailyLossLimit },
		},
		fieldDefault{
			key:   "trading.max_consecutive_losses",
			need:  func() bool { return t.MaxConsecutiveLosses <= 0 },
			apply: func() { t.MaxConsecutiveLosses = defaultMaxConsecLosses },
		},
		fieldDefault{
			key:   "trading.rolling_window",
			need:  func() bool { return t.RollingWindow <= 0 },
			apply: func() { t.RollingWindow = defaultRollingWindow },
		},
		fieldDefault{
			key:   "trading.session_end_offset_seconds",
			need:  func() bool { return t.SessionEndOffsetSeconds <= 0 },
			apply: func() { t.SessionEndOffsetSeconds = defaultSessionEndOffset },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		fieldDefault{
			key:   "broker.static_buying_power_usd",
			need:  func() bool { return b.StaticBuyingPowerUSD <= 0 },
			apply: func() { b.StaticBuyingPowerUSD = defaultStaticBuyingPower },
		},
		stringFieldDefault("broker.binance.rest_base_url", &b.Binance.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "broker.binance.timeout_seconds",
			need:  func() bool { return b.Binance.TimeoutSeconds <= 0 },
			apply: func() { b.Binance.TimeoutSeconds = defaultBinanceTimeout },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
