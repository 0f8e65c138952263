package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionAt(day string, pnl float64) types.SessionMetrics {
	date, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return types.SessionMetrics{
		SessionDate:    date,
		TradesExecuted: 4,
		Wins:           2,
		Losses:         2,
		WinRate:        0.5,
		TotalPnL:       pnl,
	}
}

func TestRender_SessionsSortedByDate(t *testing.T) {
	// 输入按日期倒序（RecentSessions 的返回顺序），渲染必须按时间轴正序
	in := Input{
		Sessions: []types.SessionMetrics{
			sessionAt("2025-03-03", 25),
			sessionAt("2025-03-02", -50),
			sessionAt("2025-03-01", 100),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, in))
	html := buf.String()

	first := strings.Index(html, "2025-03-01")
	second := strings.Index(html, "2025-03-02")
	third := strings.Index(html, "2025-03-03")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	require.NotEqual(t, -1, third)
	assert.Less(t, first, second)
	assert.Less(t, second, third)

	// 累计盈亏按日期顺序累加：100 → 50 → 75
	assert.Contains(t, html, `"value":75`)
	assert.NotContains(t, html, `"value":-25`)

	// 排序在副本上进行，调用方切片保持原顺序
	assert.Equal(t, 25.0, in.Sessions[0].TotalPnL)
}
