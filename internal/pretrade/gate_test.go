package pretrade

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHours struct{ open bool }

func (s stubHours) IsOpen(time.Time) bool { return s.open }

func newTestGate(t *testing.T, open bool) *Gate {
	t.Helper()
	store, err := NewFileBreakerStore(filepath.Join(t.TempDir(), "breaker.json"))
	require.NoError(t, err)
	return NewGate(NewBreaker(store), stubHours{open: open}, NewPendingIndex(), Config{
		DailyLossLimitUSD:    500,
		MaxConsecutiveLosses: 3,
	})
}

func buyRequest() types.TradeRequest {
	return types.TradeRequest{Symbol: "AAPL", Side: types.SideBuy, Quantity: 10, Price: 150}
}

func TestGate_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("Allow", func(t *testing.T) {
		gate := newTestGate(t, true)
		d, err := gate.Validate(ctx, buyRequest(), 10000)
		require.NoError(t, err)
		assert.True(t, d.IsSafe)
		assert.Empty(t, d.Reason)
	})

	t.Run("Invalid Request Is An Error Not A Decision", func(t *testing.T) {
		gate := newTestGate(t, true)
		cases := []types.TradeRequest{
			{Symbol: "", Side: types.SideBuy, Quantity: 1, Price: 1},
			{Symbol: "AAPL!", Side: types.SideBuy, Quantity: 1, Price: 1},
			{Symbol: "AAPL", Side: "HOLD", Quantity: 1, Price: 1},
			{Symbol: "AAPL", Side: types.SideBuy, Quantity: 0, Price: 1},
			{Symbol: "AAPL", Side: types.SideBuy, Quantity: 1, Price: -2},
		}
		for _, req := range cases {
			_, err := gate.Validate(ctx, req, 10000)
			assert.ErrorIs(t, err, ErrInvalidRequest, "req=%+v", req)
		}
		_, err := gate.Validate(ctx, buyRequest(), -1)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("Breaker Blocks Everything", func(t *testing.T) {
		gate := newTestGate(t, true)
		gate.Breaker().Trip("manual test trip")
		d, err := gate.Validate(ctx, buyRequest(), 10000)
		require.NoError(t, err)
		assert.False(t, d.IsSafe)
		assert.True(t, d.BreakerTriggered)
		assert.Contains(t, d.Reason, "circuit breaker")
	})

	t.Run("Outside Trading Hours", func(t *testing.T) {
		gate := newTestGate(t, false)
		d, err := gate.Validate(ctx, buyRequest(), 10000)
		require.NoError(t, err)
		assert.False(t, d.IsSafe)
		assert.Equal(t, "outside trading hours", d.Reason)
		assert.False(t, d.BreakerTriggered)
	})

	t.Run("Insufficient Buying Power", func(t *testing.T) {
		gate := newTestGate(t, true)
		d, err := gate.Validate(ctx, buyRequest(), 1000)
		require.NoError(t, err)
		assert.False(t, d.IsSafe)
		assert.Contains(t, d.Reason, "insufficient buying power")
	})

	t.Run("Sell Ignores Buying Power", func(t *testing.T) {
		gate := newTestGate(t, true)
		req := types.TradeRequest{Symbol: "AAPL", Side: types.SideSell, Quantity: 10, Price: 150}
		d, err := gate.Validate(ctx, req, 0)
		require.NoError(t, err)
		assert.True(t, d.IsSafe)
	})

	t.Run("Exact Cost Equals Buying Power", func(t *testing.T) {
		gate := newTestGate(t, true)
		d, err := gate.Validate(ctx, buyRequest(), 1500)
		require.NoError(t, err)
		assert.True(t, d.IsSafe, "cost equal to buying power must pass")
	})

	t.Run("Duplicate Pending Order", func(t *testing.T) {
		gate := newTestGate(t, true)
		gate.Pending().Track("AAPL", types.SideBuy)
		d, err := gate.Validate(ctx, buyRequest(), 10000)
		require.NoError(t, err)
		assert.False(t, d.IsSafe)
		assert.Contains(t, d.Reason, "duplicate order")

		gate.Pending().Resolve("AAPL")
		d, err = gate.Validate(ctx, buyRequest(), 10000)
		require.NoError(t, err)
		assert.True(t, d.IsSafe)
	})

	t.Run("Breaker Checked Before Hours", func(t *testing.T) {
		gate := newTestGate(t, false)
		gate.Breaker().Trip("ordering test")
		d, err := gate.Validate(ctx, buyRequest(), 10000)
		require.NoError(t, err)
		assert.True(t, d.BreakerTriggered, "breaker must short-circuit before trading hours")
	})
}

func TestGate_CircuitPrimitives(t *testing.T) {
	t.Run("Daily Loss Limit", func(t *testing.T) {
		gate := newTestGate(t, true)
		assert.False(t, gate.CheckDailyLossLimit(-500), "loss exactly at limit must not trip")
		assert.False(t, gate.Breaker().Active())
		assert.True(t, gate.CheckDailyLossLimit(-500.01))
		assert.True(t, gate.Breaker().Active())
	})

	t.Run("Consecutive Losses", func(t *testing.T) {
		gate := newTestGate(t, true)
		assert.False(t, gate.CheckConsecutiveLosses(2))
		assert.True(t, gate.CheckConsecutiveLosses(3))
		assert.True(t, gate.Breaker().Active())
	})

	t.Run("Disabled Primitives Never Trip", func(t *testing.T) {
		store, err := NewFileBreakerStore(filepath.Join(t.TempDir(), "breaker.json"))
		require.NoError(t, err)
		gate := NewGate(NewBreaker(store), stubHours{open: true}, NewPendingIndex(), Config{})
		assert.False(t, gate.CheckDailyLossLimit(-100000))
		assert.False(t, gate.CheckConsecutiveLosses(100))
		assert.False(t, gate.Breaker().Active())
	})
}
