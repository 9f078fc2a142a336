package ledger

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
)

var feb = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func spend(id, org, project, model string, cost float64, ts time.Time) models.SpendRecord {
	return models.SpendRecord{
		ID: id, OrgSlug: org, ProjectSlug: project,
		Provider: "openai", Model: model,
		InputTokens: 1000, OutputTokens: 500,
		CostUSD: cost, Timestamp: ts,
	}
}

func TestLimitUpsert(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		got, err := s.GetLimit(ctx, "acme", "core")
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			t.Fatalf("expected no limit, got %+v", got)
		}

		_ = s.UpsertLimit(ctx, models.BudgetLimit{OrgSlug: "acme", ProjectSlug: "core", MonthlyLimitUSD: 10, AlertThreshold: 0.8, UpdatedAt: feb})
		_ = s.UpsertLimit(ctx, models.BudgetLimit{OrgSlug: "acme", ProjectSlug: "core", MonthlyLimitUSD: 25, AlertThreshold: 0.5, UpdatedAt: feb.Add(time.Hour)})

		got, err = s.GetLimit(ctx, "acme", "core")
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.MonthlyLimitUSD != 25 || got.AlertThreshold != 0.5 {
			t.Errorf("expected replaced limit, got %+v", got)
		}
		if !got.UpdatedAt.Equal(feb.Add(time.Hour)) {
			t.Errorf("expected updated_at %v, got %v", feb.Add(time.Hour), got.UpdatedAt)
		}

		limits, _ := s.ListLimits(ctx)
		if len(limits) != 1 {
			t.Errorf("expected one row per tenant, got %d", len(limits))
		}
	})
}

func TestListLimitsOrdered(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, tn := range [][2]string{{"zeta", "a"}, {"acme", "web"}, {"acme", "core"}} {
			_ = s.UpsertLimit(ctx, models.BudgetLimit{OrgSlug: tn[0], ProjectSlug: tn[1], MonthlyLimitUSD: 1, UpdatedAt: feb})
		}

		limits, err := s.ListLimits(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"acme/core", "acme/web", "zeta/a"}
		if len(limits) != len(want) {
			t.Fatalf("expected %d limits, got %d", len(want), len(limits))
		}
		for i, l := range limits {
			if got := l.OrgSlug + "/" + l.ProjectSlug; got != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], got)
			}
		}
	})
}

func TestSumSpendWindow(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mar := feb.AddDate(0, 1, 0)

		_ = s.Append(ctx, spend("a", "acme", "core", "gpt-4o", 1.5, feb.Add(-time.Nanosecond)))
		_ = s.Append(ctx, spend("b", "acme", "core", "gpt-4o", 2, feb))
		_ = s.Append(ctx, spend("c", "acme", "core", "gpt-4o", 3, mar.Add(-time.Nanosecond)))
		_ = s.Append(ctx, spend("d", "acme", "core", "gpt-4o", 4, mar))
		_ = s.Append(ctx, spend("e", "acme", "web", "gpt-4o", 100, feb.Add(time.Hour)))

		total, err := s.SumSpend(ctx, "acme", "core", feb, mar)
		if err != nil {
			t.Fatal(err)
		}
		if !approx(total, 5) {
			t.Errorf("expected 5 within [feb, mar), got %v", total)
		}

		none, _ := s.SumSpend(ctx, "other", "core", feb, mar)
		if none != 0 {
			t.Errorf("expected 0 for unknown tenant, got %v", none)
		}
	})
}

func TestHistoryNewestFirst(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		old := spend("old", "acme", "core", "gpt-4o", 1, feb.Add(-48*time.Hour))
		first := spend("first", "acme", "core", "gpt-4o", 1, feb)
		second := spend("second", "acme", "core", "gpt-4o-mini", 2, feb.Add(time.Minute))
		second.Metadata = map[string]string{"request_id": "r-42"}
		for _, r := range []models.SpendRecord{old, first, second} {
			if err := s.Append(ctx, r); err != nil {
				t.Fatal(err)
			}
		}

		recs, err := s.History(ctx, "acme", "core", feb.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
		if recs[0].ID != "second" || recs[1].ID != "first" {
			t.Errorf("expected newest first, got %s, %s", recs[0].ID, recs[1].ID)
		}
		if recs[0].Metadata["request_id"] != "r-42" {
			t.Errorf("expected metadata to round-trip, got %v", recs[0].Metadata)
		}
		if recs[1].Metadata != nil {
			t.Errorf("expected nil metadata, got %v", recs[1].Metadata)
		}
		if !recs[0].Timestamp.Equal(feb.Add(time.Minute)) {
			t.Errorf("expected timestamp %v, got %v", feb.Add(time.Minute), recs[0].Timestamp)
		}
	})
}

func TestSummaryByModel(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mar := feb.AddDate(0, 1, 0)

		_ = s.Append(ctx, spend("1", "acme", "core", "gpt-4o-mini", 0.25, feb))
		_ = s.Append(ctx, spend("2", "acme", "core", "gpt-4o-mini", 0.25, feb.Add(time.Hour)))
		_ = s.Append(ctx, spend("3", "acme", "core", "gpt-4o", 1, feb.Add(time.Hour)))
		_ = s.Append(ctx, spend("4", "acme", "core", "gpt-4o", 9, mar))

		sums, err := s.Summary(ctx, "acme", "core", feb, mar)
		if err != nil {
			t.Fatal(err)
		}
		if len(sums) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(sums))
		}
		if sums[0].Model != "gpt-4o" || sums[0].RequestCount != 1 || !approx(sums[0].CostUSD, 1) {
			t.Errorf("unexpected gpt-4o row: %+v", sums[0])
		}
		if sums[1].Model != "gpt-4o-mini" || sums[1].RequestCount != 2 || sums[1].InputTokens != 2000 || sums[1].OutputTokens != 1000 {
			t.Errorf("unexpected gpt-4o-mini row: %+v", sums[1])
		}
	})
}

func TestMemoryStoreCopiesMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	meta := map[string]string{"k": "v"}
	r := spend("1", "acme", "core", "gpt-4o", 1, feb)
	r.Metadata = meta
	_ = s.Append(ctx, r)
	meta["k"] = "changed"

	recs, _ := s.History(ctx, "acme", "core", feb)
	if recs[0].Metadata["k"] != "v" {
		t.Error("stored metadata should not alias the caller's map")
	}
}

func TestSQLiteDuplicateID(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	r := spend("dup", "acme", "core", "gpt-4o", 1, feb)
	if err := s.Append(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, r); err == nil {
		t.Error("expected error appending a duplicate id")
	}
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "ledger.db")

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = s1.UpsertLimit(context.Background(), models.BudgetLimit{OrgSlug: "acme", ProjectSlug: "core", MonthlyLimitUSD: 5, UpdatedAt: feb})
	_ = s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatal("second Open() failed:", err)
	}
	defer s2.Close()

	l, err := s2.GetLimit(context.Background(), "acme", "core")
	if err != nil || l == nil || l.MonthlyLimitUSD != 5 {
		t.Errorf("expected limit to persist, got %+v (err %v)", l, err)
	}
}
