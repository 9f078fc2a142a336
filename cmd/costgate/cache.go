package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entries: %d (active %d, expired %d)\nHits:    %d\nHit rate: %.2f\n",
				stats.TotalEntries, stats.ActiveEntries, stats.ExpiredEntries, stats.TotalHits, stats.HitRate)
			if len(stats.ProviderStats) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := newTable(out)
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tENTRIES\tHITS")
			for _, p := range stats.ProviderStats {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.Provider, p.Model, p.Entries, p.Hits)
			}
			return tw.Flush()
		},
	}

	var (
		expiredOnly bool
		provider    string
		model       string
	)
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if model != "" && provider == "" {
				return fmt.Errorf("--model requires --provider")
			}
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			var (
				n    int64
				what string
			)
			switch {
			case expiredOnly:
				n, err = c.ClearExpired(cmd.Context())
				what = "expired"
			case provider != "":
				n, err = c.ClearProvider(cmd.Context(), provider, model)
				what = provider
				if model != "" {
					what += "/" + model
				}
			default:
				n, err = c.ClearAll(cmd.Context())
				what = "all"
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s cache entries.\n", n, what)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")
	clearCmd.Flags().StringVar(&provider, "provider", "", "only clear entries for this provider")
	clearCmd.Flags().StringVar(&model, "model", "", "with --provider, only clear this model")

	var maxEntries int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries, then evict least recently used entries above --max-entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-entries") {
				maxEntries = a.cfg.Cache.MaxEntries
			}
			if maxEntries < 0 {
				return fmt.Errorf("--max-entries must not be negative")
			}
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			res, err := cacheMaintainer(a, c, maxEntries).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired and %d evicted entries.\n", res.Expired, res.Evicted)
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&maxEntries, "max-entries", 0, "entry cap (default from config, 0 disables)")

	similarCmd := &cobra.Command{
		Use:   "similar <content-hash>",
		Short: "List cached entries whose responses share a content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			entries, err := c.FindSimilar(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No entries share that content hash.")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "KEY\tPROVIDER\tMODEL\tCREATED\tHITS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					e.Key, e.Provider, e.Model, e.CreatedAt.Format(timeLayout), e.HitCount)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, pruneCmd, similarCmd)
	return cmd
}
