package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pario-ai/costgate/pkg/cache"
	cachesqlite "github.com/pario-ai/costgate/pkg/cache/sqlite"
	"github.com/pario-ai/costgate/pkg/models"
)

func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("COSTGATE_CACHE_DB", filepath.Join(dir, "cache.db"))
	t.Setenv("COSTGATE_LEDGER_DB", filepath.Join(dir, "ledger.db"))
	t.Setenv("COSTGATE_PRICING_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("costgate %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestBudgetWorkflow(t *testing.T) {
	setupCLI(t)

	mustRun(t, "budget", "set", "acme", "core", "10")
	for range 5 {
		out := mustRun(t, "spend", "record", "acme", "core", "openai", "gpt-4o-mini", "1000", "500", "--meta", "job=nightly")
		if !strings.Contains(out, "$0.000450") {
			t.Errorf("expected per-call cost in output, got %q", out)
		}
	}

	out := mustRun(t, "budget", "status", "acme", "core")
	if !strings.Contains(out, "$0.002250") || !strings.Contains(out, "0.0225%") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	out = mustRun(t, "spend", "history", "acme", "core")
	if strings.Count(out, "job=nightly") != 5 {
		t.Errorf("expected 5 history rows, got:\n%s", out)
	}

	out = mustRun(t, "spend", "summary", "acme", "core")
	if !strings.Contains(out, "gpt-4o-mini") || !strings.Contains(out, "TOTAL") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	out = mustRun(t, "budget", "list")
	if !strings.Contains(out, "acme") {
		t.Errorf("expected acme in list:\n%s", out)
	}

	out = mustRun(t, "budget", "check", "acme", "core", "openai", "gpt-4o-mini", "100")
	if !strings.Contains(out, "within_budget") {
		t.Errorf("expected within_budget:\n%s", out)
	}
	out, err := run(t, "budget", "check", "acme", "core", "openai", "gpt-4o-mini", "100000000")
	if err == nil || !strings.Contains(out, "would_exceed_budget") {
		t.Errorf("expected denial with error, got err=%v:\n%s", err, out)
	}
}

func TestBudgetStatusUnconfigured(t *testing.T) {
	setupCLI(t)
	out := mustRun(t, "budget", "status", "nobody", "none")
	if !strings.Contains(out, "No budget set") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestBudgetApplyFromConfig(t *testing.T) {
	dir := setupCLI(t)
	cfgPath := filepath.Join(dir, "costgate.yaml")
	content := "budget:\n  default_alert_threshold: 0.5\n  limits:\n    - org: acme\n      project: core\n      monthly_limit_usd: 3\n    - org: acme\n      project: web\n      monthly_limit_usd: 1\n      alert_threshold: 0.9\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "-c", cfgPath, "budget", "apply")
	if !strings.Contains(out, "Applied 2 budgets") {
		t.Errorf("unexpected output: %q", out)
	}
	out = mustRun(t, "-c", cfgPath, "budget", "list")
	if !strings.Contains(out, "$3.000000") || !strings.Contains(out, "web") {
		t.Errorf("unexpected list:\n%s", out)
	}
}

func TestSpendRecordErrors(t *testing.T) {
	setupCLI(t)
	if _, err := run(t, "spend", "record", "acme", "core", "openai", "gpt-99", "1", "1"); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := run(t, "spend", "record", "acme", "core", "openai", "gpt-4o", "-5", "1"); err == nil {
		t.Error("expected error for negative tokens")
	}
	if _, err := run(t, "spend", "record", "acme", "core", "openai", "gpt-4o", "1", "1", "--meta", "novalue"); err == nil {
		t.Error("expected error for malformed metadata")
	}
	if _, err := run(t, "budget", "set", "acme", "core", "10", "--threshold", "2"); err == nil {
		t.Error("expected error for threshold above 1")
	}
}

func TestPricingCommands(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "pricing", "cost", "openai", "gpt-4o-mini", "1000", "500")
	if strings.TrimSpace(out) != "$0.000450" {
		t.Errorf("expected $0.000450, got %q", out)
	}

	out = mustRun(t, "pricing", "show", "--provider", "anthropic")
	if !strings.Contains(out, "claude-3-haiku") || strings.Contains(out, "gpt-4o") {
		t.Errorf("unexpected anthropic rates:\n%s", out)
	}
}

func TestCacheCommands(t *testing.T) {
	dir := setupCLI(t)

	store, err := cachesqlite.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New(store, 0)
	ctx := context.Background()
	for _, q := range []string{"a", "b", "c"} {
		req := cache.Request{Messages: []models.Message{{Role: "user", Content: q}}, Provider: "openai", Model: "gpt-4o"}
		if err := c.Put(ctx, req, models.Response{Content: "same answer"}); err != nil {
			t.Fatal(err)
		}
	}
	_ = c.Close()

	out := mustRun(t, "cache", "stats")
	if !strings.Contains(out, "Entries: 3") {
		t.Errorf("unexpected stats:\n%s", out)
	}

	hash := cache.ComputeContentHash(models.Response{Content: "same answer", Model: "gpt-4o", Provider: "openai"})
	out = mustRun(t, "cache", "similar", hash)
	if strings.Count(out, "openai") != 3 {
		t.Errorf("expected 3 similar entries:\n%s", out)
	}

	out = mustRun(t, "cache", "prune", "--max-entries", "1")
	if !strings.Contains(out, "2 evicted") {
		t.Errorf("unexpected prune output: %q", out)
	}

	out = mustRun(t, "cache", "clear", "--provider", "openai")
	if !strings.Contains(out, "Cleared 1 openai") {
		t.Errorf("unexpected clear output: %q", out)
	}

	if _, err := run(t, "cache", "clear", "--model", "gpt-4o"); err == nil {
		t.Error("expected --model without --provider to fail")
	}
}
