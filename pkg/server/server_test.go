package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/cache"
	"github.com/pario-ai/costgate/pkg/clock"
	"github.com/pario-ai/costgate/pkg/ledger"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pricing"
)

func setupServer(t *testing.T) (*Server, *budget.Enforcer, *cache.Cache) {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	m := metrics.New(nil)
	c := cache.New(cache.NewMemoryStore(), time.Hour, cache.WithClock(clk), cache.WithMetrics(m))
	e := budget.New(ledger.NewMemoryStore(), pricing.Default(), budget.WithClock(clk), budget.WithMetrics(m))
	return New(c, e, m, zerolog.Nop()), e, c
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := setupServer(t)
	w := do(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestBudgetStatusAndList(t *testing.T) {
	s, e, _ := setupServer(t)
	ctx := context.Background()
	_ = e.SetBudget(ctx, "acme", "core", 10, 0.8)
	_, _ = e.RecordSpend(ctx, "acme", "core", "openai", "gpt-4o-mini", 1000, 500, nil)

	w := do(t, s, http.MethodGet, "/v1/budgets/acme/core", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status models.BudgetStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.HasBudget || status.CurrentSpendUSD <= 0 {
		t.Errorf("unexpected status: %+v", status)
	}

	w = do(t, s, http.MethodGet, "/v1/budgets/acme/core?month=2026-02", "")
	_ = json.NewDecoder(w.Body).Decode(&status)
	if status.CurrentSpendUSD != 0 {
		t.Errorf("expected no February spend, got %v", status.CurrentSpendUSD)
	}

	if w := do(t, s, http.MethodGet, "/v1/budgets/acme/core?month=March", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad month, got %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/v1/budgets", "")
	var list []models.BudgetStatus
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].OrgSlug != "acme" {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestBudgetCheck(t *testing.T) {
	s, e, _ := setupServer(t)
	_ = e.SetBudget(context.Background(), "acme", "core", 0.0001, 0.8)

	w := do(t, s, http.MethodPost, "/v1/budgets/acme/core/check",
		`{"provider":"openai","model":"gpt-4o-mini","input_tokens":1000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var d models.BudgetDecision
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.Approved || d.Reason != models.ReasonWouldExceedBudget {
		t.Errorf("expected denial, got %+v", d)
	}

	for _, body := range []string{`{`, `{"provider":"openai"}`, `{"provider":"openai","model":"gpt-4o","input_tokens":-1}`} {
		if w := do(t, s, http.MethodPost, "/v1/budgets/acme/core/check", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestCacheStatsAndMetrics(t *testing.T) {
	s, _, c := setupServer(t)
	ctx := context.Background()
	req := cache.Request{Messages: []models.Message{{Role: "user", Content: "hi"}}, Provider: "openai", Model: "gpt-4o"}
	_ = c.Put(ctx, req, models.Response{Content: "hello"})
	_, _, _ = c.Get(ctx, req)

	w := do(t, s, http.MethodGet, "/v1/cache/stats", "")
	var stats models.CacheStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 1 || stats.TotalHits != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	w = do(t, s, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "costgate_cache_lookups_total") {
		t.Error("expected cache lookup metric in exposition")
	}
}

func TestRoutesDisabledWithoutComponents(t *testing.T) {
	s := New(nil, nil, nil, zerolog.Nop())
	for _, path := range []string{"/metrics", "/v1/cache/stats", "/v1/budgets"} {
		if w := do(t, s, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}
