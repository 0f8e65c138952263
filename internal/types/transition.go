package types

import "time"

// 转换触发方式。
const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// StageTransition 是一次阶段转换的不可变记录，落盘后归审计日志所有。
type StageTransition struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	FromStage        Stage           `json:"from_stage"`
	ToStage          Stage           `json:"to_stage"`
	Trigger          string          `json:"trigger"`
	ValidationPassed bool            `json:"validation_passed"`
	MetricsSnapshot  MetricsSnapshot `json:"metrics_snapshot"`
	FailureReasons   []string        `json:"failure_reasons,omitempty"`
	OperatorID       string          `json:"operator_id,omitempty"`
	OverrideUsed     bool            `json:"override_used"`
}

// OverrideAttempt 记录人工干预尝试，与阶段转换流各自独立。
type OverrideAttempt struct {
	Timestamp  time.Time `json:"timestamp"`
	Stage      Stage     `json:"stage"`
	Action     string    `json:"action"`
	Blocked    bool      `json:"blocked"`
	Reason     string    `json:"reason"`
	OperatorID string    `json:"operator_id,omitempty"`
}

// BreakerState 是熔断器的单条持久化状态。
type BreakerState struct {
	Active      bool       `json:"active"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
}
