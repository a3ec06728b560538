package market

import "github.com/shopspring/decimal"

// cvdLookback 是动量与背离比较所回看的 K 线数量。
const cvdLookback = 5

// OrderFlow 汇总主动买卖量差（CVD）。
type OrderFlow struct {
	Value      float64 `json:"value"`
	Momentum   float64 `json:"momentum"`
	Normalized float64 `json:"normalized"`
	Divergence string  `json:"divergence"`
	PeakFlip   string  `json:"peak_flip"`
}

// OrderFlow 用 decimal 累加主动买入减去主动卖出的量，避免长序列浮点误差。
// 没有主动买入量数据时返回 false。
func (cs Candles) OrderFlow() (OrderFlow, bool) {
	if len(cs) == 0 {
		return OrderFlow{}, false
	}
	hasFlow := false
	cvd := make([]decimal.Decimal, 0, len(cs))
	cumulative := decimal.Zero
	for _, c := range cs {
		if c.TakerBuy > 0 {
			hasFlow = true
		}
		buy := decimal.NewFromFloat(c.TakerBuy)
		sell := decimal.NewFromFloat(c.Volume).Sub(buy)
		cumulative = cumulative.Add(buy.Sub(sell))
		cvd = append(cvd, cumulative)
	}
	if !hasFlow {
		return OrderFlow{}, false
	}

	last := cvd[len(cvd)-1]
	prevIdx := 0
	if len(cvd) > cvdLookback {
		prevIdx = len(cvd) - 1 - cvdLookback
	}
	momentum := last.Sub(cvd[prevIdx])

	minVal, maxVal := cvd[0], cvd[0]
	for _, v := range cvd[1:] {
		minVal = decimal.Min(minVal, v)
		maxVal = decimal.Max(maxVal, v)
	}
	norm := decimal.NewFromFloat(0.5)
	if maxVal.GreaterThan(minVal) {
		norm = last.Sub(minVal).Div(maxVal.Sub(minVal))
	}

	priceNow, pricePrev := cs[len(cs)-1].Close, cs[prevIdx].Close
	divergence := "neutral"
	switch {
	case priceNow > pricePrev && last.LessThan(cvd[prevIdx]):
		divergence = "bearish"
	case priceNow < pricePrev && last.GreaterThan(cvd[prevIdx]):
		divergence = "bullish"
	}

	peakFlip := "none"
	if n := len(cvd); n >= 3 {
		a, b, c := cvd[n-1], cvd[n-2], cvd[n-3]
		if a.LessThan(b) && b.GreaterThan(c) {
			peakFlip = "top"
		} else if a.GreaterThan(b) && b.LessThan(c) {
			peakFlip = "bottom"
		}
	}

	return OrderFlow{
		Value:      last.InexactFloat64(),
		Momentum:   momentum.InexactFloat64(),
		Normalized: norm.Round(4).InexactFloat64(),
		Divergence: divergence,
		PeakFlip:   peakFlip,
	}, true
}
