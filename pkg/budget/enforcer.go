// Package budget decides whether a tenant can afford an LLM call and reports
// spend against monthly limits. It owns no storage: limits and spend live in
// a ledger.Store and rates in a pricing.Table.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pario-ai/costgate/pkg/clock"
	"github.com/pario-ai/costgate/pkg/ledger"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pricing"
)

// ErrInvalidThreshold is returned when an alert threshold lies outside [0, 1].
var ErrInvalidThreshold = errors.New("alert threshold must be between 0 and 1")

// DefaultHistoryDays is the trailing window History uses when days <= 0.
const DefaultHistoryDays = 30

// Enforcer checks spend against budget limits.
type Enforcer struct {
	store    ledger.Store
	prices   *pricing.Table
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	estimate EstimatePolicy
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Enforcer) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Enforcer) { e.logger = l }
}

// WithMetrics records decisions and spend.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enforcer) { e.metrics = m }
}

// WithEstimatePolicy sets how output tokens are guessed before a call.
func WithEstimatePolicy(p EstimatePolicy) Option {
	return func(e *Enforcer) { e.estimate = p }
}

// New creates an Enforcer over store and prices.
func New(store ledger.Store, prices *pricing.Table, opts ...Option) *Enforcer {
	e := &Enforcer{
		store:  store,
		prices: prices,
		clock:  clock.Real{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBudget creates or replaces the monthly limit for org/project.
// Zero and negative limits are accepted; any spend then trips OverBudget.
func (e *Enforcer) SetBudget(ctx context.Context, org, project string, limitUSD, alertThreshold float64) error {
	if alertThreshold < 0 || alertThreshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, alertThreshold)
	}
	err := e.store.UpsertLimit(ctx, models.BudgetLimit{
		OrgSlug:         org,
		ProjectSlug:     project,
		MonthlyLimitUSD: limitUSD,
		AlertThreshold:  alertThreshold,
		UpdatedAt:       e.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	e.logger.Info().Str("org", org).Str("project", project).
		Float64("limit_usd", limitUSD).Float64("alert_threshold", alertThreshold).
		Msg("budget set")
	return nil
}

// Status reports spend against the limit for the month containing ref.
// A zero ref means now.
func (e *Enforcer) Status(ctx context.Context, org, project string, ref time.Time) (models.BudgetStatus, error) {
	status := models.BudgetStatus{OrgSlug: org, ProjectSlug: project}

	limit, err := e.store.GetLimit(ctx, org, project)
	if err != nil {
		return status, fmt.Errorf("budget status: %w", err)
	}
	if limit == nil {
		return status, nil
	}

	spend, err := e.MonthlySpend(ctx, org, project, ref)
	if err != nil {
		return status, fmt.Errorf("budget status: %w", err)
	}
	return e.statusFor(*limit, spend), nil
}

func (e *Enforcer) statusFor(limit models.BudgetLimit, spend float64) models.BudgetStatus {
	limitUSD := limit.MonthlyLimitUSD
	remaining := limitUSD - spend
	s := models.BudgetStatus{
		OrgSlug:         limit.OrgSlug,
		ProjectSlug:     limit.ProjectSlug,
		HasBudget:       true,
		MonthlyLimitUSD: &limitUSD,
		AlertThreshold:  limit.AlertThreshold,
		CurrentSpendUSD: spend,
		RemainingUSD:    &remaining,
		OverBudget:      spend > limitUSD,
	}
	if limitUSD > 0 {
		pct := spend / limitUSD
		s.PercentUsed = &pct
		s.AlertTriggered = pct >= limit.AlertThreshold
		e.metrics.BudgetUsage(limit.OrgSlug, limit.ProjectSlug, pct)
	} else {
		s.AlertTriggered = s.OverBudget
	}
	return s
}

// CalculateCost prices a call. Unknown provider/model pairs return an error
// wrapping pricing.ErrPricingNotFound.
func (e *Enforcer) CalculateCost(provider, model string, inputTokens, outputTokens int) (float64, error) {
	return e.prices.Cost(provider, model, inputTokens, outputTokens)
}

// RecordSpend prices a completed call and appends it to the ledger. Call it
// only after the external request succeeded.
func (e *Enforcer) RecordSpend(ctx context.Context, org, project, provider, model string, inputTokens, outputTokens int, metadata map[string]string) (float64, error) {
	cost, err := e.CalculateCost(provider, model, inputTokens, outputTokens)
	if err != nil {
		return 0, fmt.Errorf("record spend: %w", err)
	}

	rec := models.SpendRecord{
		ID:           uuid.NewString(),
		OrgSlug:      org,
		ProjectSlug:  project,
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    e.clock.Now(),
		Metadata:     metadata,
	}
	if err := e.store.Append(ctx, rec); err != nil {
		return 0, fmt.Errorf("record spend: %w", err)
	}

	e.metrics.Spend(provider, model, cost)
	e.logger.Debug().Str("org", org).Str("project", project).
		Str("provider", provider).Str("model", model).
		Int("input_tokens", inputTokens).Int("output_tokens", outputTokens).
		Float64("cost_usd", cost).Str("id", rec.ID).
		Msg("spend recorded")
	return cost, nil
}

// MonthlySpend sums spend in the UTC calendar month containing ref.
// A zero ref means now.
func (e *Enforcer) MonthlySpend(ctx context.Context, org, project string, ref time.Time) (float64, error) {
	from, to := monthBounds(e.refOrNow(ref))
	total, err := e.store.SumSpend(ctx, org, project, from, to)
	if err != nil {
		return 0, fmt.Errorf("monthly spend: %w", err)
	}
	return total, nil
}

// History returns spend records from the trailing days, newest first.
func (e *Enforcer) History(ctx context.Context, org, project string, days int) ([]models.SpendRecord, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	since := e.clock.Now().AddDate(0, 0, -days)
	recs, err := e.store.History(ctx, org, project, since)
	if err != nil {
		return nil, fmt.Errorf("spend history: %w", err)
	}
	return recs, nil
}

// ListBudgets returns every configured limit with its current month's spend.
func (e *Enforcer) ListBudgets(ctx context.Context) ([]models.BudgetStatus, error) {
	limits, err := e.store.ListLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	from, to := monthBounds(e.clock.Now())
	statuses := make([]models.BudgetStatus, 0, len(limits))
	for _, l := range limits {
		spend, err := e.store.SumSpend(ctx, l.OrgSlug, l.ProjectSlug, from, to)
		if err != nil {
			return nil, fmt.Errorf("list budgets: %w", err)
		}
		statuses = append(statuses, e.statusFor(l, spend))
	}
	return statuses, nil
}

// MonthlySummary breaks down the month's spend by provider and model.
func (e *Enforcer) MonthlySummary(ctx context.Context, org, project string, ref time.Time) ([]models.SpendSummary, error) {
	from, to := monthBounds(e.refOrNow(ref))
	sums, err := e.store.Summary(ctx, org, project, from, to)
	if err != nil {
		return nil, fmt.Errorf("monthly summary: %w", err)
	}
	return sums, nil
}

// CheckBeforeCall decides whether a call of inputTokens fits the remaining
// monthly budget. Missing budgets and unpriceable models are approved.
func (e *Enforcer) CheckBeforeCall(ctx context.Context, org, project, provider, model string, inputTokens int) (models.BudgetDecision, error) {
	var d models.BudgetDecision

	estimate, priceErr := e.prices.Cost(provider, model, inputTokens, e.estimate.OutputTokensFor(inputTokens))
	if priceErr != nil && !errors.Is(priceErr, pricing.ErrPricingNotFound) {
		return d, fmt.Errorf("budget check: %w", priceErr)
	}
	if priceErr != nil {
		estimate = 0
	}
	d.EstimatedCostUSD = estimate

	limit, err := e.store.GetLimit(ctx, org, project)
	if err != nil {
		return d, fmt.Errorf("budget check: %w", err)
	}
	if limit == nil {
		return e.decide(d, true, models.ReasonNoBudgetSet, org, project), nil
	}

	spend, err := e.MonthlySpend(ctx, org, project, time.Time{})
	if err != nil {
		return d, fmt.Errorf("budget check: %w", err)
	}
	limitUSD := limit.MonthlyLimitUSD
	d.CurrentSpendUSD = spend
	d.ProjectedSpendUSD = spend + estimate
	d.MonthlyLimitUSD = &limitUSD

	if priceErr != nil {
		return e.decide(d, true, models.ReasonPricingNotAvailable, org, project), nil
	}
	if d.ProjectedSpendUSD > limitUSD {
		return e.decide(d, false, models.ReasonWouldExceedBudget, org, project), nil
	}
	return e.decide(d, true, models.ReasonWithinBudget, org, project), nil
}

func (e *Enforcer) decide(d models.BudgetDecision, approved bool, reason models.DecisionReason, org, project string) models.BudgetDecision {
	d.Approved = approved
	d.Reason = reason
	e.metrics.BudgetDecision(string(reason))

	ev := e.logger.Debug()
	if !approved {
		ev = e.logger.Warn()
	}
	ev.Str("org", org).Str("project", project).
		Str("reason", string(reason)).
		Float64("estimated_cost_usd", d.EstimatedCostUSD).
		Float64("projected_spend_usd", d.ProjectedSpendUSD).
		Msg("budget decision")
	return d
}

func (e *Enforcer) refOrNow(ref time.Time) time.Time {
	if ref.IsZero() {
		return e.clock.Now()
	}
	return ref
}

// monthBounds returns [start, end) of the UTC calendar month containing t.
func monthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
