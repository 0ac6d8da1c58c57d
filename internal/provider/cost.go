package provider

import "github.com/lin-1259/ai-xiutu/internal/domain"

// Base prices per output image at 1024px, in USD.
const (
	geminiBasePrice = 0.039
	qwenBasePrice   = 0.03

	minCostFactor = 0.25
)

// EstimateCost returns the estimated price of one transform at the given output
// resolution. It scales with pixel count relative to 1024px.
func EstimateCost(cfg Config, resolution int) float64 {
	var base float64
	switch cfg.Kind {
	case KindGemini:
		base = geminiBasePrice
	case KindQwen:
		base = qwenBasePrice
	default:
		base = cfg.CostPerImage
	}
	if cfg.CostPerImage > 0 {
		base = cfg.CostPerImage
	}
	if resolution <= 0 {
		resolution = domain.DefaultResolution
	}
	scale := float64(resolution) / float64(domain.DefaultResolution)
	factor := scale * scale
	if factor < minCostFactor {
		factor = minCostFactor
	}
	return base * factor
}
