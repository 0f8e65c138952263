package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"riskcore/internal/types"
)

// WriteTransitionsCSV 把转换记录导出为 CSV，指标快照保持精确十进制字符串。
func WriteTransitionsCSV(w io.Writer, list []types.StageTransition) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "timestamp", "from_stage", "to_stage", "trigger",
		"validation_passed", "metrics_snapshot", "failure_reasons", "operator_id", "override_used"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range list {
		metrics, err := json.Marshal(t.MetricsSnapshot)
		if err != nil {
			return fmt.Errorf("marshal metrics snapshot failed: %w", err)
		}
		row := []string{
			t.ID,
			t.Timestamp.UTC().Format(time.RFC3339Nano),
			t.FromStage.String(),
			t.ToStage.String(),
			t.Trigger,
			strconv.FormatBool(t.ValidationPassed),
			string(metrics),
			strings.Join(t.FailureReasons, ";"),
			t.OperatorID,
			strconv.FormatBool(t.OverrideUsed),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOverridesCSV 导出人工干预流。
func WriteOverridesCSV(w io.Writer, list []types.OverrideAttempt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "stage", "action", "blocked", "reason", "operator_id"}); err != nil {
		return err
	}
	for _, o := range list {
		row := []string{
			o.Timestamp.UTC().Format(time.RFC3339Nano),
			o.Stage.String(),
			o.Action,
			strconv.FormatBool(o.Blocked),
			o.Reason,
			o.OperatorID,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
