package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedCommand() *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "seed [channel-id]",
		Short: "Enqueue a crawl job for a seed channel",
		Long: `Enqueue a crawl job for the given channel, or for crawler.seed_channel_id
when no channel is given. Workers started with "serve" pick it up.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			channelID := rt.cfg.Crawler.SeedChannelID
			if len(args) == 1 {
				channelID = args[0]
			}

			a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("init services: %w", err)
			}
			defer a.Close()

			handle, err := a.Trigger.StartCrawl(cmd.Context(), channelID, level)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s at level %d: %s\n", channelID, level, handle)
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "level to start the traversal at")
	return cmd
}
