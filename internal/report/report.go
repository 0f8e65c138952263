package report

import (
	"io"
	"sort"
	"time"

	"riskcore/internal/types"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const dateLayout = "2006-01-02"

// Input 汇集报表所需的历史数据。会话顺序不限，渲染前统一按日期升序排列。
type Input struct {
	Transitions []types.StageTransition
	Sessions    []types.SessionMetrics
}

// Render 生成 HTML 绩效报表：阶段时间线、会话胜率、累计盈亏。
func Render(w io.Writer, in Input) error {
	sessions := make([]types.SessionMetrics, len(in.Sessions))
	copy(sessions, in.Sessions)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionDate.Before(sessions[j].SessionDate)
	})
	in.Sessions = sessions

	page := components.NewPage()
	page.PageTitle = "riskcore report"
	page.AddCharts(
		stageTimeline(in.Transitions),
		winRateChart(in.Sessions),
		pnlChart(in.Sessions),
	)
	return page.Render(w)
}

func stageTimeline(transitions []types.StageTransition) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Stage Timeline"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 3}),
	)
	xAxis := make([]string, 0, len(transitions))
	data := make([]opts.LineData, 0, len(transitions))
	for _, t := range transitions {
		xAxis = append(xAxis, t.Timestamp.UTC().Format(time.RFC3339))
		data = append(data, opts.LineData{Value: int(t.ToStage), Name: t.ToStage.String()})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("stage", data, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))
	return line
}

func winRateChart(sessions []types.SessionMetrics) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Session Win Rate"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	xAxis := make([]string, 0, len(sessions))
	data := make([]opts.LineData, 0, len(sessions))
	for _, m := range sessions {
		xAxis = append(xAxis, m.SessionDate.Format(dateLayout))
		data = append(data, opts.LineData{Value: m.WinRate})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("win_rate", data)
	return line
}

func pnlChart(sessions []types.SessionMetrics) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Cumulative PnL (USD)"}),
	)
	xAxis := make([]string, 0, len(sessions))
	data := make([]opts.LineData, 0, len(sessions))
	var cumulative float64
	for _, m := range sessions {
		cumulative += m.TotalPnL
		xAxis = append(xAxis, m.SessionDate.Format(dateLayout))
		data = append(data, opts.LineData{Value: cumulative})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("cumulative_pnl", data)
	return line
}
