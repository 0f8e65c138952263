package pretrade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_StatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breaker.json")
	store, err := NewFileBreakerStore(path)
	require.NoError(t, err)

	b := NewBreaker(store)
	assert.False(t, b.Active(), "fresh state must start inactive")

	b.Trip("daily loss limit breached")
	require.True(t, b.Active())

	// 模拟进程重启：同一文件构建新实例
	store2, err := NewFileBreakerStore(path)
	require.NoError(t, err)
	b2 := NewBreaker(store2)
	assert.True(t, b2.Active(), "tripped state must survive restart")
	assert.Equal(t, "daily loss limit breached", b2.State().Reason)
	assert.NotNil(t, b2.State().TriggeredAt)

	require.NoError(t, b2.Reset())
	assert.False(t, b2.Active())
	assert.NotNil(t, b2.State().ResetAt)

	store3, err := NewFileBreakerStore(path)
	require.NoError(t, err)
	b3 := NewBreaker(store3)
	assert.False(t, b3.Active(), "reset must survive restart")
}

func TestBreaker_CorruptStateFailsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breaker.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewFileBreakerStore(path)
	require.NoError(t, err)
	b := NewBreaker(store)

	assert.True(t, b.Active(), "unreadable state must halt trading")
	assert.Contains(t, b.State().Reason, "manual reset required")
}

func TestFileBreakerStore_LoadMissing(t *testing.T) {
	store, err := NewFileBreakerStore(filepath.Join(t.TempDir(), "breaker.json"))
	require.NoError(t, err)
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoState)
}
