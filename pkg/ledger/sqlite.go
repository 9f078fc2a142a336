package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/costgate/pkg/models"
)

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const createLimitsTable = `
CREATE TABLE IF NOT EXISTS budget_limits (
	org_slug TEXT NOT NULL,
	project_slug TEXT NOT NULL,
	monthly_limit_usd REAL NOT NULL,
	alert_threshold REAL NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (org_slug, project_slug)
);
`

const createSpendTable = `
CREATE TABLE IF NOT EXISTS spend_records (
	id TEXT PRIMARY KEY,
	org_slug TEXT NOT NULL,
	project_slug TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	timestamp INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_spend_tenant_time ON spend_records(org_slug, project_slug, timestamp);
`

// Open creates a SQLiteStore at dbPath and runs auto-migration.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createLimitsTable, createSpendTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate ledger db: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// UpsertLimit creates or replaces a budget limit.
func (s *SQLiteStore) UpsertLimit(ctx context.Context, l models.BudgetLimit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_limits (org_slug, project_slug, monthly_limit_usd, alert_threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(org_slug, project_slug) DO UPDATE SET
			monthly_limit_usd = excluded.monthly_limit_usd,
			alert_threshold = excluded.alert_threshold,
			updated_at = excluded.updated_at`,
		l.OrgSlug, l.ProjectSlug, l.MonthlyLimitUSD, l.AlertThreshold, l.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert limit: %w", err)
	}
	return nil
}

// GetLimit returns the limit for org/project or nil if none is set.
func (s *SQLiteStore) GetLimit(ctx context.Context, org, project string) (*models.BudgetLimit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT org_slug, project_slug, monthly_limit_usd, alert_threshold, updated_at
		 FROM budget_limits WHERE org_slug = ? AND project_slug = ?`,
		org, project,
	)
	l, err := scanLimit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get limit: %w", err)
	}
	return &l, nil
}

// ListLimits returns every limit ordered by org and project.
func (s *SQLiteStore) ListLimits(ctx context.Context) ([]models.BudgetLimit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_slug, project_slug, monthly_limit_usd, alert_threshold, updated_at
		 FROM budget_limits ORDER BY org_slug, project_slug`,
	)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	defer rows.Close()

	var limits []models.BudgetLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

// Append stores a spend record.
func (s *SQLiteStore) Append(ctx context.Context, rec models.SpendRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spend_records (id, org_slug, project_slug, provider, model, input_tokens, output_tokens, cost_usd, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrgSlug, rec.ProjectSlug, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.Timestamp.UnixNano(), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("append spend: %w", err)
	}
	return nil
}

// SumSpend totals spend in [from, to).
func (s *SQLiteStore) SumSpend(ctx context.Context, org, project string, from, to time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM spend_records
		 WHERE org_slug = ? AND project_slug = ? AND timestamp >= ? AND timestamp < ?`,
		org, project, from.UnixNano(), to.UnixNano(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}

// History returns records since the given time, newest first.
func (s *SQLiteStore) History(ctx context.Context, org, project string, since time.Time) ([]models.SpendRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_slug, project_slug, provider, model, input_tokens, output_tokens, cost_usd, timestamp, metadata
		 FROM spend_records WHERE org_slug = ? AND project_slug = ? AND timestamp >= ?
		 ORDER BY timestamp DESC, id DESC`,
		org, project, since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []models.SpendRecord
	for rows.Next() {
		var (
			r        models.SpendRecord
			ts       int64
			metaJSON string
		)
		if err := rows.Scan(&r.ID, &r.OrgSlug, &r.ProjectSlug, &r.Provider, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.CostUSD, &ts, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan spend: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
		}
		if len(r.Metadata) == 0 {
			r.Metadata = nil
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates spend in [from, to) grouped by provider and model.
func (s *SQLiteStore) Summary(ctx context.Context, org, project string, from, to time.Time) ([]models.SpendSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, model, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
		 FROM spend_records
		 WHERE org_slug = ? AND project_slug = ? AND timestamp >= ? AND timestamp < ?
		 GROUP BY provider, model ORDER BY provider, model`,
		org, project, from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.SpendSummary
	for rows.Next() {
		var sm models.SpendSummary
		if err := rows.Scan(&sm.Provider, &sm.Model, &sm.RequestCount, &sm.InputTokens, &sm.OutputTokens, &sm.CostUSD); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLimit(row scanner) (models.BudgetLimit, error) {
	var (
		l         models.BudgetLimit
		updatedAt int64
	)
	if err := row.Scan(&l.OrgSlug, &l.ProjectSlug, &l.MonthlyLimitUSD, &l.AlertThreshold, &updatedAt); err != nil {
		return l, err
	}
	l.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return l, nil
}
