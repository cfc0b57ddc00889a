package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/search"
	"github.com/racepix/racepix/internal/storage"
	"github.com/racepix/racepix/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the racepix API server: search endpoints, photo upload,
manual corrections and reprocessing, health and metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect to object storage: %w", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL, cfg.Queue.EnqueueDelay)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		return err
	}

	extractor := face.NewClient(cfg.Face)
	engine, err := search.NewEngine(r.bibs, r.faces, store, extractor, cfg)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, web.Deps{
		Photos:   r.photos,
		Bibs:     r.bibs,
		Audit:    r.audit,
		Rules:    r.rules,
		Engine:   engine,
		Store:    store,
		Producer: producer,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting racepix API on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
