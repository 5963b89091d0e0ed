// Package pricing estimates request cost from a static model rate table.
package pricing

import (
	"fmt"

	"github.com/lumenlabs/batchline/schemas"
)

// Oracle is the pluggable cost capability. Cost returns the non-batch unit
// cost in dollars of one completion; callers apply their own batch discount.
type Oracle interface {
	Cost(model, prompt, completion string) float64
}

// modelRates holds per-token dollar rates for one model.
type modelRates struct {
	InputCostPerToken  float64
	OutputCostPerToken float64
}

// rateTable is the built-in model pricing, per token, interactive rate.
var rateTable = map[string]modelRates{
	"gpt-3.5-turbo":      {InputCostPerToken: 0.5e-6, OutputCostPerToken: 1.5e-6},
	"gpt-3.5-turbo-0125": {InputCostPerToken: 0.5e-6, OutputCostPerToken: 1.5e-6},
	"gpt-4":              {InputCostPerToken: 30e-6, OutputCostPerToken: 60e-6},
	"gpt-4-turbo":        {InputCostPerToken: 10e-6, OutputCostPerToken: 30e-6},
	"gpt-4o":             {InputCostPerToken: 2.5e-6, OutputCostPerToken: 10e-6},
	"gpt-4o-mini":        {InputCostPerToken: 0.15e-6, OutputCostPerToken: 0.6e-6},
}

// Table is the default Oracle. Token counts are estimated from text length;
// exact counts come from provider usage data, which the response transformer
// prefers when it needs token numbers rather than dollars.
type Table struct {
	logger schemas.Logger
}

// NewTable creates the default static-table oracle.
func NewTable(logger schemas.Logger) *Table {
	return &Table{logger: logger}
}

// Cost estimates the interactive unit cost of one completion in dollars.
// Unknown models cost 0 and log at debug, matching a missing table entry.
func (t *Table) Cost(model, prompt, completion string) float64 {
	rates, ok := rateTable[model]
	if !ok {
		t.logger.Debug(fmt.Sprintf("pricing not found for model %s, skipping cost calculation", model))
		return 0
	}

	inputCost := float64(estimateTokens(prompt)) * rates.InputCostPerToken
	outputCost := float64(estimateTokens(completion)) * rates.OutputCostPerToken
	return inputCost + outputCost
}

// estimateTokens approximates the token count of a text. Four bytes per
// token is the usual rough figure for English chat content.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
