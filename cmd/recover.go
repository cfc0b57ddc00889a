package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/recovery"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run a one-shot recovery sweep",
	Long: `Re-enqueue stuck photos and batches once, then exit. With --force
and --event, every pending photo of the event is re-enqueued at maximum
priority regardless of staleness.

Example:
  racepix recover
  racepix recover --event berlin-2026 --force`,
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().String("event", "", "Event id to recover")
	recoverCmd.Flags().Bool("force", false, "Ignore staleness, re-enqueue all pending photos of --event")
}

func runRecover(cmd *cobra.Command, args []string) error {
	eventID := mustGetString(cmd, "event")
	force := mustGetBool(cmd, "force")

	if force && eventID == "" {
		return fmt.Errorf("--force requires --event")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	pool, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	r := newRepos(pool)

	producer, err := queue.NewProducer(cfg.NATS.URL, cfg.Queue.EnqueueDelay)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		return err
	}

	scanner := recovery.NewScanner(r.photos, r.batches, producer, cfg.Recovery)

	if force {
		n, err := scanner.ForceReprocess(ctx, eventID)
		if err != nil {
			return err
		}
		fmt.Printf("Force re-enqueued %d photo(s) for event %s\n", n, eventID)
		return nil
	}

	photos, err := scanner.StuckPhotoSweep(ctx)
	if err != nil {
		return err
	}
	batches, err := scanner.StuckBatchSweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Re-enqueued %d stuck photo(s) and %d batch member(s)\n", photos, batches)
	return nil
}
