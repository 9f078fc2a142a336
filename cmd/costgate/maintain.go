package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/cache"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/pricing"
	"github.com/pario-ai/costgate/pkg/server"
)

// budgetRefreshSchedule controls how often budget usage gauges are recomputed.
const budgetRefreshSchedule = "@every 1m"

func newMaintainCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run scheduled cache maintenance and serve metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			a.metrics = metrics.New(nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			prices, err := a.loadPricing()
			if err != nil {
				return err
			}
			if a.cfg.Pricing.Watch && a.cfg.Pricing.Path != "" {
				w, err := pricing.NewWatcher(a.cfg.Pricing.Path, prices, a.logger)
				if err != nil {
					return err
				}
				defer func() { _ = w.Close() }()
				go w.Run(ctx)
			}

			e, store, err := a.openEnforcerWith(prices)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := applyLimits(cmd, a, e)
			if err != nil {
				return err
			}
			if n > 0 {
				a.logger.Info().Int("count", n).Msg("applied configured budgets")
			}

			m := cacheMaintainer(a, c, a.cfg.Cache.MaxEntries)
			if _, err := m.RunOnce(ctx); err != nil {
				return fmt.Errorf("initial maintenance: %w", err)
			}
			if err := m.Start(ctx); err != nil {
				return err
			}
			defer m.Stop()

			gauges := cron.New()
			if _, err := gauges.AddFunc(budgetRefreshSchedule, func() {
				if _, err := e.ListBudgets(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("refresh budget gauges")
				}
			}); err != nil {
				return err
			}
			_, _ = e.ListBudgets(ctx)
			gauges.Start()
			defer gauges.Stop()

			a.logger.Info().
				Str("cache_db", a.cfg.Cache.DBPath).
				Str("ledger_db", a.cfg.Ledger.DBPath).
				Str("schedule", a.cfg.Cache.MaintenanceSchedule).
				Int("max_entries", a.cfg.Cache.MaxEntries).
				Msg("maintenance running")

			return server.New(c, e, a.metrics, a.logger).ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "admin/metrics listen address (default from config)")
	return cmd
}

func cacheMaintainer(a *app, c *cache.Cache, maxEntries int) *cache.Maintainer {
	return cache.NewMaintainer(c, a.cfg.Cache.MaintenanceSchedule, maxEntries, a.logger)
}

// applyLimits upserts every budget listed in the config.
func applyLimits(cmd *cobra.Command, a *app, e *budget.Enforcer) (int, error) {
	for _, l := range a.cfg.Budget.Limits {
		if err := e.SetBudget(cmd.Context(), l.OrgSlug, l.ProjectSlug, l.MonthlyLimitUSD, a.cfg.AlertThresholdFor(l)); err != nil {
			return 0, fmt.Errorf("apply budget %s/%s: %w", l.OrgSlug, l.ProjectSlug, err)
		}
	}
	return len(a.cfg.Budget.Limits), nil
}
