package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
)

type tenant struct {
	org, project string
}

// MemoryStore implements Store in process memory. Nothing is persisted.
type MemoryStore struct {
	mu      sync.RWMutex
	limits  map[tenant]models.BudgetLimit
	records []models.SpendRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limits: make(map[tenant]models.BudgetLimit)}
}

func (s *MemoryStore) UpsertLimit(_ context.Context, l models.BudgetLimit) error {
	s.mu.Lock()
	s.limits[tenant{l.OrgSlug, l.ProjectSlug}] = l
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLimit(_ context.Context, org, project string) (*models.BudgetLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limits[tenant{org, project}]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *MemoryStore) ListLimits(_ context.Context) ([]models.BudgetLimit, error) {
	s.mu.RLock()
	out := make([]models.BudgetLimit, 0, len(s.limits))
	for _, l := range s.limits {
		out = append(out, l)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OrgSlug != out[j].OrgSlug {
			return out[i].OrgSlug < out[j].OrgSlug
		}
		return out[i].ProjectSlug < out[j].ProjectSlug
	})
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, rec models.SpendRecord) error {
	rec.Metadata = cloneMetadata(rec.Metadata)
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SumSpend(_ context.Context, org, project string, from, to time.Time) (float64, error) {
	var total float64
	s.each(org, project, func(r models.SpendRecord) {
		if inWindow(r.Timestamp, from, to) {
			total += r.CostUSD
		}
	})
	return total, nil
}

func (s *MemoryStore) History(_ context.Context, org, project string, since time.Time) ([]models.SpendRecord, error) {
	var out []models.SpendRecord
	s.each(org, project, func(r models.SpendRecord) {
		if !r.Timestamp.Before(since) {
			r.Metadata = cloneMetadata(r.Metadata)
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Summary(_ context.Context, org, project string, from, to time.Time) ([]models.SpendSummary, error) {
	byModel := make(map[[2]string]*models.SpendSummary)
	s.each(org, project, func(r models.SpendRecord) {
		if !inWindow(r.Timestamp, from, to) {
			return
		}
		k := [2]string{r.Provider, r.Model}
		sm, ok := byModel[k]
		if !ok {
			sm = &models.SpendSummary{Provider: r.Provider, Model: r.Model}
			byModel[k] = sm
		}
		sm.RequestCount++
		sm.InputTokens += int64(r.InputTokens)
		sm.OutputTokens += int64(r.OutputTokens)
		sm.CostUSD += r.CostUSD
	})

	var out []models.SpendSummary
	for _, sm := range byModel {
		out = append(out, *sm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) each(org, project string, fn func(models.SpendRecord)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.OrgSlug == org && r.ProjectSlug == project {
			fn(r)
		}
	}
}

func inWindow(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
