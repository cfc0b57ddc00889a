package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/ocr"
	"github.com/racepix/racepix/internal/pipeline"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/recovery"
	"github.com/racepix/racepix/internal/storage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the pipeline worker",
	Long: `Start the recognition worker: queue consumers for all job types
plus the recovery scanner sweeps.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	r := newRepos(pool)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect to object storage: %w", err)
	}
	cache := storage.NewDownloadCache(store,
		cfg.Storage.DownloadCacheTTL, cfg.Storage.DownloadAttempts, cfg.Storage.DownloadTimeout)

	ocrProvider, err := ocr.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create OCR provider: %w", err)
	}
	extractor := face.NewClient(cfg.Face)

	producer, err := queue.NewProducer(cfg.NATS.URL, cfg.Queue.EnqueueDelay)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		return err
	}

	processor, err := pipeline.NewProcessor(
		r.photos, r.bibs, r.faces, r.batches, r.rules,
		store, cache, ocrProvider, extractor, pipeline.LogMailer{}, cfg)
	if err != nil {
		return err
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect consumer to nats: %w", err)
	}
	defer consumer.Close()

	workers := cfg.Queue.Workers
	if err := consumer.Consume(ctx, queue.QueueProcessPhoto, cfg.Queue.ProcessPhoto, workers,
		processor.HandleProcessPhoto, processor.HandleProcessPhotoExhausted); err != nil {
		return err
	}
	if err := consumer.Consume(ctx, queue.QueueProcessFace, cfg.Queue.ProcessFace, workers,
		processor.HandleProcessFace, nil); err != nil {
		return err
	}
	if err := consumer.Consume(ctx, queue.QueueReprocessPhoto, cfg.Queue.ReprocessPhoto, workers,
		processor.HandleReprocessPhoto, processor.HandleReprocessExhausted); err != nil {
		return err
	}
	if err := consumer.Consume(ctx, queue.QueueSendEmail, cfg.Queue.SendEmail, workers,
		processor.HandleSendEmail, nil); err != nil {
		return err
	}

	scanner := recovery.NewScanner(r.photos, r.batches, producer, cfg.Recovery)
	go scanner.Run(ctx)

	fmt.Printf("Worker running with %d workers per queue\n", workers)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down worker...")
	cancel()
	return nil
}
