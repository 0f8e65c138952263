package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"riskcore/internal/logger"
	"riskcore/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Snapshot 是某一时刻的不可变策略视图。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Doc      Document
}

// GateFor 返回指向 target 阶段的晋级门槛。
func (s Snapshot) GateFor(target types.Stage) (GateThresholds, bool) {
	gate, ok := s.Doc.Gates[target.String()]
	return gate, ok
}

// QuotaFor 返回阶段每日交易配额；UnlimitedQuota 表示不限。
func (s Snapshot) QuotaFor(stage types.Stage) int {
	limit, ok := s.Doc.Quotas[stage.String()]
	if !ok {
		return UnlimitedQuota
	}
	return limit
}

// ChangeListener 在策略重载后收到新快照。
type ChangeListener func(Snapshot)

// Registry 管理阶段策略：内置默认表 + 可选的热更新配置文件。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 构建策略注册表。path 为空时只使用内置默认表。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if r.path == "" {
		r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now().UTC(), Doc: Defaults()}
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file failed: %w", err)
	}
	r.v = v
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("policy reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前策略快照。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(listener ChangeListener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, listener)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	snap := r.snapshot
	r.mu.RUnlock()
	for _, l := range listeners {
		l(snap)
	}
}

func (r *Registry) reload() error {
	settings := r.v.AllSettings()
	if err := validateDocument(settings); err != nil {
		return fmt.Errorf("policy file %s invalid: %w", r.path, err)
	}
	doc, err := readPolicyFile(r.path)
	if err != nil {
		return err
	}
	merged := merge(Defaults(), doc)
	if err := checkDocument(merged); err != nil {
		return fmt.Errorf("policy file %s invalid: %w", r.path, err)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now().UTC(),
		Doc:      merged,
	}
	r.mu.Unlock()
	logger.Infof("policy loaded from %s (version=%d)", r.path, r.Snapshot().Version)
	return nil
}

// readPolicyFile 严格解码策略文件，未知字段直接报错。
func readPolicyFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read policy file failed: %w", err)
	}
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("parse policy file failed: %w", err)
	}
	return doc, nil
}

// checkDocument 做 schema 之外的语义校验。
func checkDocument(doc Document) error {
	for name, gate := range doc.Gates {
		if _, err := types.ParseStage(name); err != nil {
			return fmt.Errorf("gates contains unknown stage %q", name)
		}
		if gate.MinWinRate < 0 || gate.MinWinRate > 1 {
			return fmt.Errorf("gates.%s.min_win_rate must be within [0,1]", name)
		}
		if gate.MaxDrawdown < 0 || gate.MaxDrawdown > 1 {
			return fmt.Errorf("gates.%s.max_drawdown must be within [0,1]", name)
		}
	}
	for name, limit := range doc.Quotas {
		if _, err := types.ParseStage(name); err != nil {
			return fmt.Errorf("quotas contains unknown stage %q", name)
		}
		if limit < UnlimitedQuota {
			return fmt.Errorf("quotas.%s must be >= -1", name)
		}
	}
	if doc.Sizing.StreakGroupSize <= 0 {
		return fmt.Errorf("sizing.streak_group_size must be positive")
	}
	if doc.Downgrade.MinLossStreak <= 0 {
		return fmt.Errorf("downgrade.min_loss_streak must be positive")
	}
	return nil
}

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "gates": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "min_sessions": {"type": "integer", "minimum": 0},
          "min_trades": {"type": "integer", "minimum": 0},
          "min_win_rate": {"type": "number", "minimum": 0, "maximum": 1},
          "min_avg_rr": {"type": "number", "minimum": 0},
          "max_drawdown": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "additionalProperties": false
      }
    },
    "quotas": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": -1}
    },
    "sizing": {
      "type": "object",
      "properties": {
        "proof_of_concept_usd": {"type": "number", "minimum": 0},
        "trial_usd": {"type": "number", "minimum": 0},
        "scaling_base_usd": {"type": "number", "minimum": 0},
        "streak_group_size": {"type": "integer", "minimum": 1},
        "streak_bonus_usd": {"type": "number", "minimum": 0},
        "hot_hand_win_rate": {"type": "number", "minimum": 0, "maximum": 1},
        "hot_hand_bonus_usd": {"type": "number", "minimum": 0},
        "scaling_cap_usd": {"type": "number", "minimum": 0},
        "portfolio_cap_pct": {"type": "number", "minimum": 0, "maximum": 1}
      },
      "additionalProperties": false
    },
    "downgrade": {
      "type": "object",
      "properties": {
        "min_loss_streak": {"type": "integer", "minimum": 1},
        "min_win_rate": {"type": "number", "minimum": 0, "maximum": 1},
        "max_abs_loss_usd": {"type": "number", "minimum": 0}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func validateDocument(settings map[string]any) error {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("policy.schema.json", documentSchema)
	})
	if schemaErr != nil {
		return fmt.Errorf("compile policy schema failed: %w", schemaErr)
	}
	// viper 给出的是 yaml 解码值，经 JSON 往返得到 schema 校验器期望的类型。
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return compiledSchema.Validate(doc)
}
