package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRefreshCommand() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-seed channels whose last crawl is older than a threshold",
		Long: `A traversal never crawls a channel twice. refresh is the external schedule
that brings stale channels back: each channel whose last crawl is older than
--older-than is enqueued again at level 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be > 0")
			}
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("init services: %w", err)
			}
			defer a.Close()

			before := time.Now().UTC().Add(-olderThan)
			stale, err := a.Store.ListStale(cmd.Context(), before, limit)
			if err != nil {
				return fmt.Errorf("list stale channels: %w", err)
			}
			enqueued := 0
			for _, e := range stale {
				if _, err := a.Trigger.StartCrawl(cmd.Context(), e.ID, 1); err != nil {
					rt.logger.Error("refresh enqueue failed", zap.String("entity_id", e.ID), zap.Error(err))
					continue
				}
				enqueued++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d of %d stale channels\n", enqueued, len(stale))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age of the last crawl")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of channels to refresh (0 for no limit)")
	return cmd
}
