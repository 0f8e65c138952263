package stage

import (
	"fmt"

	"riskcore/internal/types"
)

// NonSequentialError 表示目标阶段不是当前阶段的直接后继/前驱。
type NonSequentialError struct {
	From   types.Stage
	Target types.Stage
}

func (e *NonSequentialError) Error() string {
	return fmt.Sprintf("non-sequential transition: %s -> %s", e.From, e.Target)
}

// ValidationError 表示晋级门槛未达标，携带完整校验结果供调用方展示。
type ValidationError struct {
	Result types.ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage validation failed, missing: %v", e.Result.MissingRequirements)
}
