package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ModelPricing holds per-1M-token costs for a model as decimal strings, the
// same representation the store persists, so billing math never touches
// binary floating point (§3).
type ModelPricing struct {
	ModelID            string `json:"model_id"`
	InputCost          string `json:"input_cost"`
	OutputCost         string `json:"output_cost"`
	CacheReadCost      string `json:"cache_read_cost"`
	CacheCreationCost  string `json:"cache_creation_cost"`
}

const tokensPerMillion = 1_000_000

// ComputeCost applies pricing to a usage snapshot, returning the total cost
// as a decimal string. Any malformed pricing string is treated as zero for
// that component rather than failing the whole computation - a RequestLog
// row must always be written (§7).
func (p ModelPricing) ComputeCost(u UsageCounters) string {
	total := decimal.Zero
	total = total.Add(costFor(p.InputCost, u.InputTokens))
	total = total.Add(costFor(p.OutputCost, u.OutputTokens))
	total = total.Add(costFor(p.CacheReadCost, u.CacheReadTokens))
	total = total.Add(costFor(p.CacheCreationCost, u.CacheCreationTokens))
	return total.StringFixed(6)
}

func costFor(rate string, tokens int64) decimal.Decimal {
	if rate == "" || tokens == 0 {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return decimal.Zero
	}
	return d.Mul(decimal.NewFromInt(tokens)).Div(decimal.NewFromInt(tokensPerMillion))
}

// DefaultModelPricing seeds the pricing table with a handful of well-known
// models so ComputeCost produces non-zero numbers out of the box. Prices
// are not synced from any live source.
func DefaultModelPricing() []ModelPricing {
	return []ModelPricing{
		{ModelID: "claude-3-5-sonnet-20241022", InputCost: "3.00", OutputCost: "15.00", CacheReadCost: "0.30", CacheCreationCost: "3.75"},
		{ModelID: "claude-3-5-haiku-20241022", InputCost: "0.80", OutputCost: "4.00", CacheReadCost: "0.08", CacheCreationCost: "1.00"},
		{ModelID: "claude-opus-4", InputCost: "15.00", OutputCost: "75.00", CacheReadCost: "1.50", CacheCreationCost: "18.75"},
		{ModelID: "gpt-4o", InputCost: "2.50", OutputCost: "10.00", CacheReadCost: "1.25", CacheCreationCost: "0"},
		{ModelID: "gpt-4o-mini", InputCost: "0.15", OutputCost: "0.60", CacheReadCost: "0.075", CacheCreationCost: "0"},
		{ModelID: "gemini-1.5-pro", InputCost: "1.25", OutputCost: "5.00", CacheReadCost: "0.3125", CacheCreationCost: "0"},
		{ModelID: "gemini-1.5-flash", InputCost: "0.075", OutputCost: "0.30", CacheReadCost: "0.01875", CacheCreationCost: "0"},
	}
}

// ErrModelPricingNotFound is returned by stores when no pricing row matches
// a model id; callers fall back to a zero-cost ModelPricing rather than
// failing the request log write.
type ErrModelPricingNotFound struct {
	ModelID string
}

func (e *ErrModelPricingNotFound) Error() string {
	return fmt.Sprintf("no pricing configured for model %q", e.ModelID)
}
