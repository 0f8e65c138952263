package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"riskcore/internal/types"

	_ "modernc.org/sqlite"
)

// SQLiteStore 以 SQLite 实现审计日志，每条流一张只追加的表。
// 与文件后端语义一致，便于在共享盘不可靠的环境下换用。
type SQLiteStore struct {
	db *sql.DB

	transitionsMu sync.Mutex
	overridesMu   sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audit sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit sqlite failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS stage_transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			ts TEXT NOT NULL,
			from_stage TEXT NOT NULL,
			to_stage TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			validation_passed INTEGER NOT NULL,
			metrics_json TEXT NOT NULL,
			failure_reasons_json TEXT,
			operator_id TEXT,
			override_used INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_transitions_ts ON stage_transitions(ts)`,
		`CREATE TABLE IF NOT EXISTS override_attempts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			stage TEXT NOT NULL,
			action TEXT NOT NULL,
			blocked INTEGER NOT NULL,
			reason TEXT,
			operator_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_override_attempts_ts ON override_attempts(ts)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("audit migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) LogTransition(ctx context.Context, t types.StageTransition) error {
	metricsJSON, err := json.Marshal(t.MetricsSnapshot)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot failed: %w", err)
	}
	var reasonsJSON []byte
	if len(t.FailureReasons) > 0 {
		reasonsJSON, err = json.Marshal(t.FailureReasons)
		if err != nil {
			return fmt.Errorf("marshal failure reasons failed: %w", err)
		}
	}

	s.transitionsMu.Lock()
	defer s.transitionsMu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO stage_transitions
		(id, ts, from_stage, to_stage, trigger_type, validation_passed, metrics_json, failure_reasons_json, operator_id, override_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339Nano),
		t.FromStage.String(),
		t.ToStage.String(),
		t.Trigger,
		boolToInt(t.ValidationPassed),
		string(metricsJSON),
		nullableString(string(reasonsJSON)),
		nullableString(t.OperatorID),
		boolToInt(t.OverrideUsed),
	)
	if err != nil {
		return fmt.Errorf("insert transition failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogOverrideAttempt(ctx context.Context, o types.OverrideAttempt) error {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO override_attempts
		(ts, stage, action, blocked, reason, operator_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.Timestamp.UTC().Format(time.RFC3339Nano),
		o.Stage.String(),
		o.Action,
		boolToInt(o.Blocked),
		o.Reason,
		nullableString(o.OperatorID),
	)
	if err != nil {
		return fmt.Errorf("insert override attempt failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryTransitions(ctx context.Context, start, end time.Time) ([]types.StageTransition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ts, from_stage, to_stage, trigger_type,
		validation_passed, metrics_json, failure_reasons_json, operator_id, override_used
		FROM stage_transitions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query transitions failed: %w", err)
	}
	defer rows.Close()

	var out []types.StageTransition
	for rows.Next() {
		var (
			t            types.StageTransition
			ts           string
			fromRaw      string
			toRaw        string
			passed       int
			metricsJSON  string
			reasonsJSON  sql.NullString
			operatorID   sql.NullString
			overrideUsed int
		)
		if err := rows.Scan(&t.ID, &ts, &fromRaw, &toRaw, &t.Trigger, &passed,
			&metricsJSON, &reasonsJSON, &operatorID, &overrideUsed); err != nil {
			return nil, err
		}
		stamp, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse transition timestamp failed: %w", err)
		}
		if !inDateRange(stamp, start, end) {
			continue
		}
		t.Timestamp = stamp
		if t.FromStage, err = types.ParseStage(fromRaw); err != nil {
			return nil, err
		}
		if t.ToStage, err = types.ParseStage(toRaw); err != nil {
			return nil, err
		}
		t.ValidationPassed = passed != 0
		t.OverrideUsed = overrideUsed != 0
		if err := json.Unmarshal([]byte(metricsJSON), &t.MetricsSnapshot); err != nil {
			return nil, fmt.Errorf("parse metrics snapshot failed: %w", err)
		}
		if reasonsJSON.Valid && reasonsJSON.String != "" {
			if err := json.Unmarshal([]byte(reasonsJSON.String), &t.FailureReasons); err != nil {
				return nil, fmt.Errorf("parse failure reasons failed: %w", err)
			}
		}
		t.OperatorID = operatorID.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueryOverrideAttempts(ctx context.Context, start, end time.Time) ([]types.OverrideAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, stage, action, blocked, reason, operator_id
		FROM override_attempts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query override attempts failed: %w", err)
	}
	defer rows.Close()

	var out []types.OverrideAttempt
	for rows.Next() {
		var (
			o          types.OverrideAttempt
			ts         string
			stageRaw   string
			blocked    int
			operatorID sql.NullString
		)
		if err := rows.Scan(&ts, &stageRaw, &o.Action, &blocked, &o.Reason, &operatorID); err != nil {
			return nil, err
		}
		stamp, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse override timestamp failed: %w", err)
		}
		if !inDateRange(stamp, start, end) {
			continue
		}
		o.Timestamp = stamp
		if o.Stage, err = types.ParseStage(stageRaw); err != nil {
			return nil, err
		}
		o.Blocked = blocked != 0
		o.OperatorID = operatorID.String
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
