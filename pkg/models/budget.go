package models

import "time"

// DefaultAlertThreshold is the fraction of a monthly limit at which an alert fires.
const DefaultAlertThreshold = 0.8

// BudgetLimit is the monthly spend limit for an organization/project pair.
type BudgetLimit struct {
	OrgSlug         string    `json:"org_slug"`
	ProjectSlug     string    `json:"project_slug"`
	MonthlyLimitUSD float64   `json:"monthly_limit_usd"`
	AlertThreshold  float64   `json:"alert_threshold"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BudgetStatus shows current spend against a limit. Pointer fields are nil
// when no budget is configured.
type BudgetStatus struct {
	OrgSlug         string   `json:"org_slug"`
	ProjectSlug     string   `json:"project_slug"`
	HasBudget       bool     `json:"has_budget"`
	MonthlyLimitUSD *float64 `json:"monthly_limit_usd"`
	AlertThreshold  float64  `json:"alert_threshold,omitempty"`
	CurrentSpendUSD float64  `json:"current_spend_usd"`
	RemainingUSD    *float64 `json:"remaining_usd"`
	PercentUsed     *float64 `json:"percent_used"`
	AlertTriggered  bool     `json:"alert_triggered"`
	OverBudget      bool     `json:"over_budget"`
}

// DecisionReason explains a pre-call budget decision.
type DecisionReason string

const (
	ReasonNoBudgetSet         DecisionReason = "no_budget_set"
	ReasonPricingNotAvailable DecisionReason = "pricing_not_available"
	ReasonWouldExceedBudget   DecisionReason = "would_exceed_budget"
	ReasonWithinBudget        DecisionReason = "within_budget"
)

// BudgetDecision is the result of a pre-call affordability check.
type BudgetDecision struct {
	Approved          bool           `json:"approved"`
	Reason            DecisionReason `json:"reason"`
	EstimatedCostUSD  float64        `json:"estimated_cost_usd"`
	CurrentSpendUSD   float64        `json:"current_spend_usd"`
	ProjectedSpendUSD float64        `json:"projected_spend_usd"`
	MonthlyLimitUSD   *float64       `json:"monthly_limit_usd,omitempty"`
}
