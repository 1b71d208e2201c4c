package ai

import "strings"

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// prices is matched by longest prefix.
var prices = map[string]Price{
	"claude-opus-4":     {15, 75},
	"claude-sonnet-4":   {3, 15},
	"claude-3-7-sonnet": {3, 15},
	"claude-3-5-sonnet": {3, 15},
	"claude-haiku-4":    {1, 5},
	"claude-3-5-haiku":  {0.8, 4},
	"gpt-4o-mini":       {0.15, 0.6},
	"gpt-4o":            {2.5, 10},
	"gpt-4.1-mini":      {0.4, 1.6},
	"gpt-4.1":           {2, 8},
	"o1-mini":           {1.1, 4.4},
	"o1-":               {15, 60},
	"o3-mini":           {1.1, 4.4},
	"o3-":               {2, 8},
	"gemini-2.5-pro":    {1.25, 10},
	"gemini-2.5-flash":  {0.3, 2.5},
	"gemini-2.0-flash":  {0.1, 0.4},
}

// PriceFor returns the price entry for model.
func PriceFor(model string) (Price, bool) {
	best := ""
	for prefix := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Price{}, false
	}
	return prices[best], true
}

// Cost returns the USD cost of one exchange. ok is false for unpriced models.
func Cost(model string, inputTokens, outputTokens int) (float64, bool) {
	p, ok := PriceFor(model)
	if !ok {
		return 0, false
	}
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000, true
}
