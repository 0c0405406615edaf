package llm

import "strings"

// USD per million tokens, input then output. Longest matching prefix wins.
var prices = map[string][2]float64{
	"gpt-4o-mini":       {0.15, 0.60},
	"gpt-4o":            {2.50, 10.00},
	"gpt-4.1-mini":      {0.40, 1.60},
	"gpt-4.1-nano":      {0.10, 0.40},
	"gpt-4.1":           {2.00, 8.00},
	"gpt-3.5-turbo":     {0.50, 1.50},
	"o3-mini":           {1.10, 4.40},
	"o4-mini":           {1.10, 4.40},
	"claude-3-5-haiku":  {0.80, 4.00},
	"claude-3-haiku":    {0.25, 1.25},
	"claude-3-5-sonnet": {3.00, 15.00},
	"claude-sonnet-4":   {3.00, 15.00},
	"claude-3-opus":     {15.00, 75.00},
	"claude-opus-4":     {15.00, 75.00},
	"gemini-1.5-flash":  {0.075, 0.30},
	"gemini-1.5-pro":    {1.25, 5.00},
	"gemini-2.0-flash":  {0.10, 0.40},
	"gemini-2.5-flash":  {0.30, 2.50},
	"gemini-2.5-pro":    {1.25, 10.00},
}

// Cost estimates a call's price; unknown models cost nothing.
func Cost(model string, promptTokens, completionTokens int) float64 {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	best := ""
	for prefix := range prices {
		if strings.HasPrefix(m, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := prices[best]
	return (float64(promptTokens)*p[0] + float64(completionTokens)*p[1]) / 1e6
}
