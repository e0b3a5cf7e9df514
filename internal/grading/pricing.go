package grading

// modelPrice is USD per one million tokens.
type modelPrice struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// modelPrices holds published list prices for the models graders commonly
// use. Unknown models fall back to the provider default so cost accounting
// never silently reports zero.
var modelPrices = map[string]modelPrice{
	"claude-3-5-haiku-20241022":  {inputPerMTok: 0.80, outputPerMTok: 4.00},
	"claude-3-5-sonnet-20241022": {inputPerMTok: 3.00, outputPerMTok: 15.00},
	"claude-sonnet-4-20250514":   {inputPerMTok: 3.00, outputPerMTok: 15.00},
	"gpt-4o":                     {inputPerMTok: 2.50, outputPerMTok: 10.00},
	"gpt-4o-mini":                {inputPerMTok: 0.15, outputPerMTok: 0.60},
	"gpt-4.1-mini":               {inputPerMTok: 0.40, outputPerMTok: 1.60},
}

var providerDefaultPrices = map[string]modelPrice{
	"anthropic": {inputPerMTok: 3.00, outputPerMTok: 15.00},
	"openai":    {inputPerMTok: 2.50, outputPerMTok: 10.00},
}

// estimateCost converts token counts into USD for the given provider/model.
func estimateCost(provider, model string, inputTokens, outputTokens int) float64 {
	price, ok := modelPrices[model]
	if !ok {
		price = providerDefaultPrices[provider]
	}
	return float64(inputTokens)/1e6*price.inputPerMTok +
		float64(outputTokens)/1e6*price.outputPerMTok
}
