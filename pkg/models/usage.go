package models

import "time"

// SpendRecord is one priced LLM call. Records are immutable once written;
// CostUSD is frozen at write time.
type SpendRecord struct {
	ID           string            `json:"id"`
	OrgSlug      string            `json:"org_slug"`
	ProjectSlug  string            `json:"project_slug"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	CostUSD      float64           `json:"cost_usd"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SpendSummary aggregates spend for one provider/model within a window.
type SpendSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	RequestCount int     `json:"request_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// ModelPricing defines per-1K token costs for a provider's model.
type ModelPricing struct {
	Provider    string  `json:"provider" yaml:"-"`
	Model       string  `json:"model" yaml:"-"`
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}
