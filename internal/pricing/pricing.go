// Package pricing computes per-request USD cost from token counts using a
// static price table. Models missing from the table yield no cost rather
// than a wrong one.
package pricing

// modelPrice holds USD prices per 1K tokens.
type modelPrice struct {
	inputPer1K  float64
	outputPer1K float64
}

var prices = map[string]modelPrice{
	"claude-3-5-sonnet-20241022": {inputPer1K: 0.003, outputPer1K: 0.015},
	"deepseek-chat":              {inputPer1K: 0.000224, outputPer1K: 0.00032},
	"gpt-4o-mini":                {inputPer1K: 0.00015, outputPer1K: 0.0006},
}

// Cost returns the USD cost for a request, and whether the model is priced.
func Cost(model string, inputTokens, outputTokens int) (float64, bool) {
	p, ok := prices[model]
	if !ok {
		return 0, false
	}
	cost := float64(inputTokens)/1000*p.inputPer1K + float64(outputTokens)/1000*p.outputPer1K
	return cost, true
}
