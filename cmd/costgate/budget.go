package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pario-ai/costgate/pkg/models"
)

func newBudgetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage monthly spend budgets",
	}

	var threshold float64
	setCmd := &cobra.Command{
		Use:   "set <org> <project> <monthly-limit-usd>",
		Short: "Create or replace a project's monthly limit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid limit %q: %w", args[2], err)
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.Budget.DefaultAlertThreshold
			}

			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := e.SetBudget(cmd.Context(), args[0], args[1], limit, threshold); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Budget for %s/%s set to %s (alert at %.0f%%).\n",
				args[0], args[1], usd(limit), threshold*100)
			return nil
		},
	}
	setCmd.Flags().Float64Var(&threshold, "threshold", models.DefaultAlertThreshold, "alert threshold as a fraction of the limit")

	var month string
	statusCmd := &cobra.Command{
		Use:   "status <org> <project>",
		Short: "Show spend against a project's monthly limit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseMonth(month)
			if err != nil {
				return err
			}
			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			s, err := e.Status(cmd.Context(), args[0], args[1], ref)
			if err != nil {
				return err
			}
			if !s.HasBudget {
				fmt.Fprintf(cmd.OutOrStdout(), "No budget set for %s/%s.\n", args[0], args[1])
				return nil
			}
			return writeStatuses(cmd.OutOrStdout(), []models.BudgetStatus{s})
		},
	}
	statusCmd.Flags().StringVar(&month, "month", "", "month to report (YYYY-MM, default: current)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every budget with this month's spend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			statuses, err := e.ListBudgets(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No budgets configured.")
				return nil
			}
			return writeStatuses(cmd.OutOrStdout(), statuses)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check <org> <project> <provider> <model> <input-tokens>",
		Short: "Ask whether a call of the given size fits the budget",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseTokens("input tokens", args[4])
			if err != nil {
				return err
			}
			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			d, err := e.CheckBeforeCall(cmd.Context(), args[0], args[1], args[2], args[3], in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Approved:  %t\nReason:    %s\nEstimate:  %s\nSpend:     %s\nProjected: %s\nLimit:     %s\n",
				d.Approved, d.Reason, usd(d.EstimatedCostUSD), usd(d.CurrentSpendUSD),
				usd(d.ProjectedSpendUSD), optUSD(d.MonthlyLimitUSD))
			if !d.Approved {
				return fmt.Errorf("call for %s/%s would exceed its budget", args[0], args[1])
			}
			return nil
		},
	}

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Upsert the budgets listed in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := applyLimits(cmd, a, e)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d budgets.\n", n)
			return nil
		},
	}

	cmd.AddCommand(setCmd, statusCmd, listCmd, checkCmd, applyCmd)
	return cmd
}
