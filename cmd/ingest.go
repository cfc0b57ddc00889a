package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/storage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <event-id> <folder-path> [folder-path...]",
	Short: "Batch-upload photos for an event",
	Long: `Upload photos from one or more folders, create a batch job and
enqueue recognition for every accepted file.

By default, only files in the specified folders are uploaded (non-recursive).
Use -r to search recursively in subdirectories.
Supported formats: jpg, jpeg, png, webp

Example:
  racepix ingest berlin-2026 /path/to/photos
  racepix ingest -r berlin-2026 /path/to/folder1 /path/to/folder2`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	ingestCmd.Flags().String("photographer", "", "Photographer id to attach to the photos")
}

// isImageFile checks if a file has an extension the pipeline handles.
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	default:
		return false
	}
}

func collectImageFiles(folders []string, recursive bool) ([]string, error) {
	var filePaths []string
	for _, folderPath := range folders {
		info, err := os.Stat(folderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access folder %s: %w", folderPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", folderPath)
		}

		if recursive {
			err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					filePaths = append(filePaths, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", folderPath, err)
			}
			continue
		}

		entries, err := os.ReadDir(folderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read folder %s: %w", folderPath, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isImageFile(entry.Name()) {
				filePaths = append(filePaths, filepath.Join(folderPath, entry.Name()))
			}
		}
	}
	return filePaths, nil
}

func ingestBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func runIngest(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	folders := args[1:]
	recursive := mustGetBool(cmd, "recursive")
	photographerID := mustGetString(cmd, "photographer")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	filePaths, err := collectImageFiles(folders, recursive)
	if err != nil {
		return err
	}
	if len(filePaths) == 0 {
		fmt.Println("No image files found in the specified folders.")
		return nil
	}
	fmt.Printf("Found %d image(s) to upload from %d folder(s)\n", len(filePaths), len(folders))

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

	batch := &database.BatchUploadJob{EventID: eventID, TotalFiles: len(filePaths)}
	if err := r.batches.Create(ctx, batch); err != nil {
		return fmt.Errorf("create batch job: %w", err)
	}
	fmt.Printf("Batch %s created\n\n", batch.ID)

	bar := ingestBar(len(filePaths))
	var uploadErrors []string
	accepted := 0
	for _, filePath := range filePaths {
		fileName := filepath.Base(filePath)

		if err := ingestOne(ctx, r, store, producer, batch.ID, eventID, photographerID, filePath); err != nil {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %v", fileName, err))
			if cerr := r.batches.AddOutcome(ctx, batch.ID, database.StageUpload, false); cerr != nil {
				uploadErrors = append(uploadErrors, fmt.Sprintf("%s: count failure: %v", fileName, cerr))
			}
			bar.Add(1)
			continue
		}
		if cerr := r.batches.AddOutcome(ctx, batch.ID, database.StageUpload, true); cerr != nil {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: count success: %v", fileName, cerr))
		}
		accepted++
		bar.Add(1)
	}
	fmt.Println()

	for _, errMsg := range uploadErrors {
		fmt.Printf("Failed: %s\n", errMsg)
	}

	if accepted == 0 {
		return fmt.Errorf("no files were uploaded successfully")
	}
	fmt.Printf("\nUploaded %d/%d file(s); recognition jobs enqueued for batch %s\n",
		accepted, len(filePaths), batch.ID)
	return nil
}

func ingestOne(
	ctx context.Context,
	r repos,
	store storage.ObjectStore,
	producer *queue.Producer,
	batchID, eventID, photographerID, filePath string,
) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if err := storage.ValidateImage(data); err != nil {
		return err
	}

	photoID := uuid.New().String()
	key := storage.OriginalKey(eventID, photoID, strings.ToLower(filepath.Ext(filePath)))
	if _, err := store.Upload(ctx, key, data, storage.DetectContentType(data)); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	photo := &database.Photo{
		ID:             photoID,
		EventID:        eventID,
		PhotographerID: photographerID,
		BatchID:        &batchID,
		StorageKey:     key,
	}
	if err := r.photos.Create(ctx, photo); err != nil {
		return fmt.Errorf("create photo record: %w", err)
	}

	producer.EnqueueAfterDelay(queue.QueueProcessPhoto, 0, queue.ProcessPhotoJob{
		PhotoID:    photo.ID,
		EventID:    eventID,
		StorageKey: key,
		BatchID:    &batchID,
	})
	return nil
}
