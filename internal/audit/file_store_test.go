package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"riskcore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransition(ts time.Time, id string) types.StageTransition {
	return types.StageTransition{
		ID:               id,
		Timestamp:        ts,
		FromStage:        types.StageExperience,
		ToStage:          types.StageProofOfConcept,
		Trigger:          types.TriggerAuto,
		ValidationPassed: true,
		MetricsSnapshot: types.MetricsSnapshot{
			types.CriterionWinRate:      decimal.RequireFromString("0.6234"),
			types.CriterionSessionCount: decimal.NewFromInt(25),
		},
	}
}

func TestFileStore_TransitionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tr := sampleTransition(base.AddDate(0, 0, i), string(rune('a'+i)))
		require.NoError(t, store.LogTransition(ctx, tr))
	}

	got, err := store.QueryTransitions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	t.Run("Append Order Preserved", func(t *testing.T) {
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
		assert.Equal(t, "c", got[2].ID)
	})

	t.Run("Decimal Snapshot Exact", func(t *testing.T) {
		winRate := got[0].MetricsSnapshot[types.CriterionWinRate]
		assert.True(t, winRate.Equal(decimal.RequireFromString("0.6234")), "got %s", winRate)
		// 文件中必须以字符串承载十进制，而不是二进制浮点
		raw, err := os.ReadFile(filepath.Join(dir, "transitions.jsonl"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"win_rate":"0.6234"`)
	})

	t.Run("Date Range Filter", func(t *testing.T) {
		day2 := base.AddDate(0, 0, 1)
		mid, err := store.QueryTransitions(ctx, day2, day2)
		require.NoError(t, err)
		require.Len(t, mid, 1)
		assert.Equal(t, "b", mid[0].ID)
	})

	t.Run("One Record Per Line", func(t *testing.T) {
		raw, err := os.ReadFile(filepath.Join(dir, "transitions.jsonl"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
		assert.Len(t, lines, 3)
	})
}

func TestFileStore_MissingStreamIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.QueryTransitions(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)

	overrides, err := store.QueryOverrideAttempts(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestFileStore_MalformedLineSkipped(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.LogTransition(ctx, sampleTransition(ts, "ok-1")))

	// 模拟中途断电留下的半条记录
	f, err := os.OpenFile(filepath.Join(dir, "transitions.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"broken","timestamp":"2025-03-01T13:`)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.LogTransition(ctx, sampleTransition(ts.Add(2*time.Hour), "ok-2")))

	got, err := store.QueryTransitions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ok-1", got[0].ID)
	assert.Equal(t, "ok-2", got[1].ID)
}

func TestFileStore_OverrideAttempts(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	o := types.OverrideAttempt{
		Timestamp:  time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
		Stage:      types.StageProofOfConcept,
		Action:     "force_advance",
		Blocked:    true,
		Reason:     "override disabled",
		OperatorID: "ops-7",
	}
	require.NoError(t, store.LogOverrideAttempt(ctx, o))

	got, err := store.QueryOverrideAttempts(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o.Action, got[0].Action)
	assert.True(t, got[0].Blocked)
	assert.Equal(t, "ops-7", got[0].OperatorID)
}
