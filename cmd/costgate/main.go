package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/cache"
	cachesqlite "github.com/pario-ai/costgate/pkg/cache/sqlite"
	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/ledger"
	"github.com/pario-ai/costgate/pkg/logging"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/pricing"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "costgate",
		Short:         "LLM response cache and monthly spend budget gate",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newCacheCmd(a),
		newBudgetCmd(a),
		newSpendCmd(a),
		newPricingCmd(a),
		newMaintainCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log, cmd.ErrOrStderr())
	return nil
}

func (a *app) openCache() (*cache.Cache, error) {
	store, err := cachesqlite.Open(a.cfg.Cache.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return cache.New(store, a.cfg.Cache.TTL,
		cache.WithLogger(a.logger),
		cache.WithMetrics(a.metrics),
	), nil
}

func (a *app) loadPricing() (*pricing.Table, error) {
	if a.cfg.Pricing.Path == "" {
		return pricing.Default(), nil
	}
	t, err := pricing.LoadFile(a.cfg.Pricing.Path)
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}
	return t, nil
}

// openEnforcer returns an Enforcer over the configured ledger and pricing.
// The caller must close the returned store.
func (a *app) openEnforcer() (*budget.Enforcer, ledger.Store, error) {
	prices, err := a.loadPricing()
	if err != nil {
		return nil, nil, err
	}
	return a.openEnforcerWith(prices)
}

func (a *app) openEnforcerWith(prices *pricing.Table) (*budget.Enforcer, ledger.Store, error) {
	store, err := ledger.Open(a.cfg.Ledger.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("init ledger: %w", err)
	}
	e := budget.New(store, prices,
		budget.WithLogger(a.logger.With().Str("component", "budget").Logger()),
		budget.WithMetrics(a.metrics),
		budget.WithEstimatePolicy(a.cfg.Budget.OutputEstimate),
	)
	return e, store, nil
}
