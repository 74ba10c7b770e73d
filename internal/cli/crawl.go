package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/app"
	"github.com/JakeFAU/channel-discovery-crawler/internal/config"
)

func newCrawlCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl [channel-id]",
		Short: "Run a whole traversal in-process and exit when it is done",
		Long: `Run a traversal from the given channel (or crawler.seed_channel_id) on the
in-memory queue, with workers in this process, and exit once no job is left.
The configured store and archive are used; the queue backend is ignored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg := rt.cfg
	cfg.Queue.Backend = config.BackendMemory
	channelID := cfg.Crawler.SeedChannelID
	if len(args) == 1 {
		channelID = args[0]
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer a.Close()
	if a.Crawler == nil {
		return app.ErrNoSource
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- a.RunWorkers(ctx)
	}()

	start := time.Now()
	if _, err := a.Trigger.StartCrawl(ctx, channelID, 1); err != nil {
		return err
	}
	if err := a.WaitIdle(ctx, 50*time.Millisecond); err != nil {
		return fmt.Errorf("wait for traversal: %w", err)
	}
	cancel()
	if err := <-workersDone; err != nil {
		return err
	}

	rt.logger.Info("traversal finished", zap.String("seed", channelID), zap.Duration("elapsed", time.Since(start)))
	fmt.Fprintf(cmd.OutOrStdout(), "traversal from %s finished in %s\n", channelID, time.Since(start).Round(time.Millisecond))
	return nil
}
