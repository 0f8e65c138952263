package policy

import (
	"os"
	"path/filepath"
	"testing"

	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_DefaultsOnly(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)
	snap := reg.Snapshot()

	gate, ok := snap.GateFor(types.StageProofOfConcept)
	require.True(t, ok)
	assert.Equal(t, 20, gate.MinSessions)
	assert.Equal(t, 0.60, gate.MinWinRate)
	assert.Equal(t, 1.5, gate.MinAvgRR)

	gate, ok = snap.GateFor(types.StageScaling)
	require.True(t, ok)
	assert.Equal(t, 0.05, gate.MaxDrawdown)

	_, ok = snap.GateFor(types.StageExperience)
	assert.False(t, ok, "no gate leads into the first stage")

	assert.Equal(t, 1, snap.QuotaFor(types.StageProofOfConcept))
	assert.Equal(t, UnlimitedQuota, snap.QuotaFor(types.StageExperience))
	assert.Equal(t, UnlimitedQuota, snap.QuotaFor(types.StageScaling))
}

func TestRegistry_FileOverridesMergeWithDefaults(t *testing.T) {
	path := writePolicyFile(t, `
gates:
  proof_of_concept:
    min_sessions: 10
    min_win_rate: 0.55
    min_avg_rr: 1.2
quotas:
  proof_of_concept: 3
`)
	reg, err := NewRegistry(path)
	require.NoError(t, err)
	snap := reg.Snapshot()

	gate, ok := snap.GateFor(types.StageProofOfConcept)
	require.True(t, ok)
	assert.Equal(t, 10, gate.MinSessions)
	assert.Equal(t, 0.55, gate.MinWinRate)

	// 未覆盖的条目保持内置默认
	gate, ok = snap.GateFor(types.StageScaling)
	require.True(t, ok)
	assert.Equal(t, 60, gate.MinSessions)
	assert.Equal(t, 3, snap.QuotaFor(types.StageProofOfConcept))
	assert.Equal(t, UnlimitedQuota, snap.QuotaFor(types.StageRealMoneyTrial))
	assert.Equal(t, 3, snap.Doc.Downgrade.MinLossStreak)
}

func TestRegistry_RejectsInvalidDocument(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"Unknown Field", "gates:\n  proof_of_concept:\n    min_sesions: 10\n"},
		{"Win Rate Out Of Range", "gates:\n  proof_of_concept:\n    min_win_rate: 1.5\n"},
		{"Quota Below Minus One", "quotas:\n  proof_of_concept: -2\n"},
		{"Unknown Stage", "gates:\n  warp_speed:\n    min_sessions: 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePolicyFile(t, tc.content)
			_, err := NewRegistry(path)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_SnapshotVersionIncrements(t *testing.T) {
	path := writePolicyFile(t, "quotas:\n  proof_of_concept: 2\n")
	reg, err := NewRegistry(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reg.Snapshot().Version)

	require.NoError(t, reg.reload())
	assert.EqualValues(t, 2, reg.Snapshot().Version)
}
