package visual

import (
	"errors"
	"fmt"
	"io"
	"math"

	"tradeagent/internal/market"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

// ErrNoCandles 表示快照中没有指定周期的 K 线。
var ErrNoCandles = errors.New("no candles to chart")

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#26a69a"
	colorBear          = "#ef5350"
	colorEmaFast       = "#f6c177"
	colorEmaSlow       = "#7aa2f7"

	chartWidthPx  = 1200
	chartHeightPx = 560
)

// ChartOptions 控制叠加的 EMA 周期。
type ChartOptions struct {
	EMAFast int
	EMASlow int
}

func (o ChartOptions) withDefaults() ChartOptions {
	if o.EMAFast <= 0 {
		o.EMAFast = 21
	}
	if o.EMASlow <= 0 {
		o.EMASlow = 50
	}
	return o
}

// RenderKline 把快照中 interval 周期的 K 线渲染成带 EMA 叠加的 HTML 图表。
func RenderKline(w io.Writer, snap market.Snapshot, interval string, opt ChartOptions) error {
	candles := snap.CandlesFor(interval)
	if len(candles) == 0 {
		return fmt.Errorf("%s %s: %w", snap.Symbol, interval, ErrNoCandles)
	}
	opt = opt.withDefaults()

	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:       fmt.Sprintf("%s %s", snap.Symbol, interval),
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", snap.Symbol, interval),
			Subtitle:      fmt.Sprintf("origin=%s last=%.4f", snap.Origin, snap.LastPrice),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := buildXAxis(candles)
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", buildKlineSeries(candles))

	closes := candles.Closes()
	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries(fmt.Sprintf("EMA%d", opt.EMAFast), emaLine(closes, opt.EMAFast),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaFast, Width: 2}))
	line.AddSeries(fmt.Sprintf("EMA%d", opt.EMASlow), emaLine(closes, opt.EMASlow),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaSlow, Width: 2}))
	kline.Overlap(line)

	return kline.Render(w)
}

func buildXAxis(candles market.Candles) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.Time().Format("01-02 15:04")
	}
	return x
}

func buildKlineSeries(candles market.Candles) []opts.KlineData {
	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	return data
}

// emaLine 在预热期内留空。
func emaLine(closes []float64, period int) []opts.LineData {
	out := make([]opts.LineData, len(closes))
	if period <= 1 || len(closes) < period {
		return out
	}
	series := talib.Ema(closes, period)
	for i := range closes {
		if i < period-1 || i >= len(series) || math.IsNaN(series[i]) {
			continue
		}
		out[i] = opts.LineData{Value: round(series[i], 4)}
	}
	return out
}

func priceBounds(candles market.Candles) (float64, float64) {
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		minV = math.Min(minV, c.Low)
		maxV = math.Max(maxV, c.High)
	}
	return minV, maxV
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
