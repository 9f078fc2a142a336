package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
)

const timeLayout = "2006-01-02T15:04:05"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func usd(v float64) string {
	return fmt.Sprintf("$%.6f", v)
}

func optUSD(v *float64) string {
	if v == nil {
		return "-"
	}
	return usd(*v)
}

func optPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f%%", *v*100)
}

func writeStatuses(w io.Writer, statuses []models.BudgetStatus) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ORG\tPROJECT\tLIMIT\tSPEND\tREMAINING\tUSED\tALERT\tOVER")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
			s.OrgSlug, s.ProjectSlug, optUSD(s.MonthlyLimitUSD), usd(s.CurrentSpendUSD),
			optUSD(s.RemainingUSD), optPercent(s.PercentUsed), s.AlertTriggered, s.OverBudget)
	}
	return tw.Flush()
}

func writeSummary(w io.Writer, sums []models.SpendSummary) error {
	if len(sums) == 0 {
		_, err := fmt.Fprintln(w, "No spend recorded.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tREQUESTS\tINPUT\tOUTPUT\tCOST")
	var total float64
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			s.Provider, s.Model, s.RequestCount, s.InputTokens, s.OutputTokens, usd(s.CostUSD))
		total += s.CostUSD
	}
	fmt.Fprintf(tw, "\t\t\t\tTOTAL\t%s\n", usd(total))
	return tw.Flush()
}

func formatMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

// parseMetadata turns key=value pairs into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q (use key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}

// parseMonth parses YYYY-MM into the first instant of that UTC month. An
// empty string yields the zero time, which callers treat as now.
func parseMonth(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --month (use YYYY-MM): %w", err)
	}
	return t, nil
}

func parseTokens(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, s)
	}
	return n, nil
}
