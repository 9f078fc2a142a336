package ledger

import (
	"context"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
)

// Store records spend and budget limits.
type Store interface {
	// UpsertLimit creates or replaces the limit for limit's (org, project).
	UpsertLimit(ctx context.Context, limit models.BudgetLimit) error
	// GetLimit returns the limit for (org, project), or nil when none is set.
	GetLimit(ctx context.Context, org, project string) (*models.BudgetLimit, error)
	// ListLimits returns all limits ordered by org then project.
	ListLimits(ctx context.Context) ([]models.BudgetLimit, error)
	// Append stores a spend record. Records are never updated.
	Append(ctx context.Context, rec models.SpendRecord) error
	// SumSpend totals CostUSD for (org, project) with from <= timestamp < to.
	SumSpend(ctx context.Context, org, project string, from, to time.Time) (float64, error)
	// History returns records at or after since, newest first.
	History(ctx context.Context, org, project string, since time.Time) ([]models.SpendRecord, error)
	// Summary aggregates spend in [from, to) by provider and model.
	Summary(ctx context.Context, org, project string, from, to time.Time) ([]models.SpendSummary, error)
	// Close releases resources.
	Close() error
}
