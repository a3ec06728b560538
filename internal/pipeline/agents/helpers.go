package agents

import (
	"math"
	"strings"
)

const defaultInterval = "1h"

func nameOrDefault(name, fallback string) string {
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	return fallback
}

func intervalOrDefault(iv string) string {
	iv = strings.ToLower(strings.TrimSpace(iv))
	if iv == "" {
		return defaultInterval
	}
	return iv
}

func last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
