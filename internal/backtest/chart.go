package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// RenderEquityChart 把权益曲线渲染为独立 HTML 页面。
func RenderEquityChart(w io.Writer, res *Result) error {
	if res == nil {
		return fmt.Errorf("nil backtest result")
	}
	xAxis := make([]string, len(res.Equity))
	values := make([]opts.LineData, len(res.Equity))
	for i, p := range res.Equity {
		xAxis[i] = p.Timestamp.UTC().Format(time.DateTime)
		values[i] = opts.LineData{Value: p.Value}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:     types.ThemeWesteros,
			PageTitle: "Backtest " + res.ID,
			Width:     "1200px",
			Height:    "520px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s · %s", res.Config.Symbol, res.Config.Timeframe, res.Config.StrategyName),
			Subtitle: fmt.Sprintf("trades=%d return=%.2f%% maxDD=%.2f%%",
				res.Metrics.TotalTrades, res.Metrics.TotalReturnPercent, res.Metrics.MaxDrawdownPercent),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis).AddSeries("equity", values,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line.Render(w)
}
