package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/costgate/pkg/models"
)

// ErrPricingNotFound is returned when a provider or model has no rates.
var ErrPricingNotFound = errors.New("pricing not found")

//go:embed defaults.yaml
var defaultsYAML []byte

type file struct {
	Providers map[string]map[string]models.ModelPricing `yaml:"providers"`
}

// Table is a thread-safe provider → model → rates mapping.
type Table struct {
	mu    sync.RWMutex
	rates map[string]map[string]models.ModelPricing
}

// New returns an empty Table.
func New() *Table {
	return &Table{rates: make(map[string]map[string]models.ModelPricing)}
}

// Default returns a Table holding the built-in rates.
func Default() *Table {
	t := New()
	rates, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("pricing: bad embedded defaults: %v", err))
	}
	t.Merge(rates)
	return t
}

// LoadFile returns the built-in rates with the YAML file at path merged over them.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	rates, err := Parse(data)
	if err != nil {
		return nil, err
	}
	t := Default()
	t.Merge(rates)
	return t, nil
}

// Parse decodes a pricing document. Negative rates are rejected.
func Parse(data []byte) ([]models.ModelPricing, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}

	var rates []models.ModelPricing
	for provider, byModel := range f.Providers {
		for model, p := range byModel {
			if p.InputPer1K < 0 || p.OutputPer1K < 0 {
				return nil, fmt.Errorf("parse pricing: negative rate for %s/%s", provider, model)
			}
			p.Provider = provider
			p.Model = model
			rates = append(rates, p)
		}
	}
	sortRates(rates)
	return rates, nil
}

// Merge adds or overwrites the given rates.
func (t *Table) Merge(rates []models.ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range rates {
		byModel, ok := t.rates[p.Provider]
		if !ok {
			byModel = make(map[string]models.ModelPricing)
			t.rates[p.Provider] = byModel
		}
		byModel[p.Model] = p
	}
}

// Set adds or overwrites a single model's rates.
func (t *Table) Set(p models.ModelPricing) {
	t.Merge([]models.ModelPricing{p})
}

// Replace swaps the table's contents for other's.
func (t *Table) Replace(other *Table) {
	rates := other.All()
	fresh := make(map[string]map[string]models.ModelPricing)
	for _, p := range rates {
		if fresh[p.Provider] == nil {
			fresh[p.Provider] = make(map[string]models.ModelPricing)
		}
		fresh[p.Provider][p.Model] = p
	}
	t.mu.Lock()
	t.rates = fresh
	t.mu.Unlock()
}

// Lookup returns the rates for provider and model.
func (t *Table) Lookup(provider, model string) (models.ModelPricing, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byModel, ok := t.rates[provider]
	if !ok {
		return models.ModelPricing{}, fmt.Errorf("%w: unknown provider %q", ErrPricingNotFound, provider)
	}
	p, ok := byModel[model]
	if !ok {
		return models.ModelPricing{}, fmt.Errorf("%w: unknown model %q for provider %q", ErrPricingNotFound, model, provider)
	}
	return p, nil
}

// Cost prices a call: in/1000*input rate + out/1000*output rate.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) (float64, error) {
	p, err := t.Lookup(provider, model)
	if err != nil {
		return 0, err
	}
	return tokenCost(inputTokens, p.InputPer1K) + tokenCost(outputTokens, p.OutputPer1K), nil
}

// Providers returns the known providers in sorted order.
func (t *Table) Providers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rates))
	for p := range t.rates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Models returns the priced models of provider in sorted order.
func (t *Table) Models(provider string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rates[provider]))
	for m := range t.rates[provider] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// All returns every rate sorted by provider then model.
func (t *Table) All() []models.ModelPricing {
	t.mu.RLock()
	var out []models.ModelPricing
	for _, byModel := range t.rates {
		for _, p := range byModel {
			out = append(out, p)
		}
	}
	t.mu.RUnlock()
	sortRates(out)
	return out
}

func tokenCost(tokens int, per1K float64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * per1K
}

func sortRates(rates []models.ModelPricing) {
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].Provider != rates[j].Provider {
			return rates[i].Provider < rates[j].Provider
		}
		return rates[i].Model < rates[j].Model
	})
}
