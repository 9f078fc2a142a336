package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/costgate/pkg/models"
)

func newPricingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Show token rates and price calls",
	}

	var provider string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List per-1K token rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadPricing()
			if err != nil {
				return err
			}

			var rates []models.ModelPricing
			if provider == "" {
				rates = t.All()
			} else {
				for _, m := range t.Models(provider) {
					p, err := t.Lookup(provider, m)
					if err != nil {
						return err
					}
					rates = append(rates, p)
				}
			}
			if len(rates) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No rates for provider %q.\n", provider)
				return nil
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tINPUT/1K\tOUTPUT/1K")
			for _, p := range rates {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Provider, p.Model, usd(p.InputPer1K), usd(p.OutputPer1K))
			}
			return tw.Flush()
		},
	}
	showCmd.Flags().StringVar(&provider, "provider", "", "only show this provider")

	costCmd := &cobra.Command{
		Use:   "cost <provider> <model> <input-tokens> <output-tokens>",
		Short: "Price a call without recording it",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseTokens("input tokens", args[2])
			if err != nil {
				return err
			}
			out, err := parseTokens("output tokens", args[3])
			if err != nil {
				return err
			}
			t, err := a.loadPricing()
			if err != nil {
				return err
			}
			cost, err := t.Cost(args[0], args[1], in, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usd(cost))
			return nil
		},
	}

	cmd.AddCommand(showCmd, costCmd)
	return cmd
}
