package aiclient

// ModelPrice is USD per 1K tokens.
type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// priceTable covers the models the pipeline is deployed with. Unknown models
// cost zero; the usage endpoint still reports their token counts.
var priceTable = map[string]ModelPrice{
	"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4.1":       {InputPer1K: 0.002, OutputPer1K: 0.008},
	"gpt-4.1-mini":  {InputPer1K: 0.0004, OutputPer1K: 0.0016},
	"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
}

// speechPricePerMinute is the USD cost per transcribed audio minute.
const speechPricePerMinute = 0.006

// costFor computes the USD cost of one chat call.
func costFor(model string, promptTokens, completionTokens int) float64 {
	p, ok := priceTable[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K
}

// costForAudio computes the USD cost of transcribing the given duration.
func costForAudio(seconds float64) float64 {
	return seconds / 60 * speechPricePerMinute
}
