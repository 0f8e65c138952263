package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.AuditBackend)) {
	case "file":
		if strings.TrimSpace(s.AuditDir) == "" {
			return fmt.Errorf("storage.audit_dir required for file backend")
		}
	case "sqlite":
		if strings.TrimSpace(s.AuditDBPath) == "" {
			return fmt.Errorf("storage.audit_db_path required for sqlite backend")
		}
	default:
		return fmt.Errorf("storage.audit_backend must be file or sqlite, got %q", s.AuditBackend)
	}
	if strings.TrimSpace(s.HistoryDBPath) == "" {
		return fmt.Errorf("storage.history_db_path cannot be empty")
	}
	if strings.TrimSpace(s.BreakerStatePath) == "" {
		return fmt.Errorf("storage.breaker_state_path cannot be empty")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("trading.timezone invalid: %w", err)
	}
	for key, raw := range map[string]string{
		"trading.session_open":  t.SessionOpen,
		"trading.session_close": t.SessionClose,
	} {
		if _, err := time.Parse("15:04", raw); err != nil {
			return fmt.Errorf("%s must look like HH:MM, got %q", key, raw)
		}
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Mode)) {
	case "static":
	case "binance":
		if strings.TrimSpace(b.Binance.APIKey) == "" || strings.TrimSpace(b.Binance.APISecret) == "" {
			return fmt.Errorf("broker.binance requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("broker.mode must be static or binance, got %q", b.Mode)
	}
	return nil
}
