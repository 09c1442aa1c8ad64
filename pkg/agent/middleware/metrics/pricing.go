package metrics

// ModelPrice is the USD price per million tokens.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// Pricing maps model names to prices. Unknown models cost nothing.
type Pricing map[string]ModelPrice

// Cost returns the USD cost of one request.
func (p Pricing) Cost(model string, promptTokens, completionTokens int) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*price.InputPerMTok + float64(completionTokens)*price.OutputPerMTok) / 1_000_000
}
