package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSpendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Record and report LLM spend",
	}

	var meta []string
	recordCmd := &cobra.Command{
		Use:   "record <org> <project> <provider> <model> <input-tokens> <output-tokens>",
		Short: "Price a completed call and append it to the ledger",
		Args:  cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseTokens("input tokens", args[4])
			if err != nil {
				return err
			}
			out, err := parseTokens("output tokens", args[5])
			if err != nil {
				return err
			}
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}

			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cost, err := e.RecordSpend(cmd.Context(), args[0], args[1], args[2], args[3], in, out, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s/%s.\n", usd(cost), args[0], args[1])
			return nil
		},
	}
	recordCmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata as key=value (repeatable)")

	var days int
	historyCmd := &cobra.Command{
		Use:   "history <org> <project>",
		Short: "List recent spend records, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := a.openEnforcer()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			recs, err := e.History(cmd.Context(), args[0], args[1], days)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No spend recorded.")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TIME\tPROVIDER\tMODEL\tINPUT\tOUTPUT\tCOST\tMETADATA")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.Timestamp.Format(timeLayout), r.Provider, r.Model,
					r.InputTokens, r.OutputTokens, usd(r.CostUSD), formatMetadata(r.Metadata))
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVar(&days, "days", 30, "trailing window in days")

	var month string
	summaryCmd := &cobra.Command{
		Use:   "summary <org> <project>",
		Short: "Break down a month's spend by provider and model",
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

			sums, err := e.MonthlySummary(cmd.Context(), args[0], args[1], ref)
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), sums)
		},
	}
	summaryCmd.Flags().StringVar(&month, "month", "", "month to report (YYYY-MM, default: current)")

	cmd.AddCommand(recordCmd, historyCmd, summaryCmd)
	return cmd
}
