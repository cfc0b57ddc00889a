//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/ocr"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	cfg := &config.DatabaseConfig{URL: dbURL, MaxOpenConns: 5, MaxIdleConns: 2}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

func createPhoto(t *testing.T, repo *PhotoRepository, eventID string) *database.Photo {
	t.Helper()
	photo := &database.Photo{
		EventID:    eventID,
		StorageKey: "events/" + eventID + "/originals/p.jpg",
	}
	if err := repo.Create(context.Background(), photo); err != nil {
		t.Fatalf("create photo: %v", err)
	}
	return photo
}

func TestPhotoLifecycle(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewPhotoRepository(pool)
	photo := createPhoto(t, repo, "ev1")

	got, err := repo.Get(ctx, photo.ID)
	if err != nil {
		t.Fatalf("get photo: %v", err)
	}
	if got.Status != database.PhotoPending {
		t.Errorf("new photo status = %s, want PENDING", got.Status)
	}

	if err := repo.SetDerivatives(ctx, photo.ID, "thumb.jpg", "wm.jpg", 4000, 3000); err != nil {
		t.Fatalf("set derivatives: %v", err)
	}
	if err := repo.MarkProcessed(ctx, photo.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	got, err = repo.Get(ctx, photo.ID)
	if err != nil {
		t.Fatalf("get photo: %v", err)
	}
	if got.Status != database.PhotoProcessed || got.ThumbnailKey != "thumb.jpg" || got.Width != 4000 {
		t.Errorf("unexpected photo after processing: %+v", got)
	}

	if err := repo.MarkFailed(ctx, photo.ID, "ocr exploded"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ = repo.Get(ctx, photo.ID)
	if got.Status != database.PhotoFailed || got.ProcessingError == nil || *got.ProcessingError != "ocr exploded" {
		t.Errorf("expected FAILED with retained error, got %+v", got)
	}

	if err := repo.MarkPending(ctx, photo.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	got, _ = repo.Get(ctx, photo.ID)
	if got.Status != database.PhotoPending || got.ProcessingError != nil {
		t.Errorf("expected PENDING with cleared error, got %+v", got)
	}

	missing, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("get missing photo: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing photo")
	}
}

func TestListStuckPendingSkipsPlaceholders(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewPhotoRepository(pool)

	old := time.Now().Add(-time.Hour)
	real := &database.Photo{EventID: "ev1", StorageKey: "events/ev1/originals/a.jpg", CreatedAt: old}
	placeholder := &database.Photo{EventID: "ev1", StorageKey: "placeholder/a.jpg", CreatedAt: old}
	fresh := &database.Photo{EventID: "ev1", StorageKey: "events/ev1/originals/b.jpg"}
	for _, p := range []*database.Photo{real, placeholder, fresh} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	stuck, err := repo.ListStuckPending(ctx, time.Now().Add(-10*time.Minute), 100)
	if err != nil {
		t.Fatalf("list stuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != real.ID {
		t.Errorf("expected only the old real-key photo, got %+v", stuck)
	}
}

func TestBibReplaceKeepsManual(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	photos := NewPhotoRepository(pool)
	bibs := NewBibRepository(pool)
	photo := createPhoto(t, photos, "ev1")

	manual := &database.PhotoBib{PhotoID: photo.ID, EventID: "ev1", Bib: "777"}
	if err := bibs.InsertManual(ctx, manual); err != nil {
		t.Fatalf("insert manual: %v", err)
	}

	first := []database.PhotoBib{{Bib: "100", Confidence: 0.9}}
	if err := bibs.ReplaceDetected(ctx, photo.ID, "ev1", first); err != nil {
		t.Fatalf("replace detected: %v", err)
	}
	second := []database.PhotoBib{{Bib: "200", Confidence: 0.8}, {Bib: "300", Confidence: 0.7}}
	if err := bibs.ReplaceDetected(ctx, photo.ID, "ev1", second); err != nil {
		t.Fatalf("replace detected again: %v", err)
	}

	all, err := bibs.ListByPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("list bibs: %v", err)
	}
	values := map[string]database.BibSource{}
	for _, b := range all {
		values[b.Bib] = b.Source
	}
	if len(all) != 3 {
		t.Fatalf("expected manual + 2 detected, got %d: %v", len(all), values)
	}
	if values["777"] != database.BibSourceManual {
		t.Error("manual bib must survive replacement")
	}
	if _, found := values["100"]; found {
		t.Error("stale detected bib must be replaced")
	}
}

func TestSearchByBibPagination(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	photos := NewPhotoRepository(pool)
	bibs := NewBibRepository(pool)

	confs := []float64{0.95, 0.90, 0.90, 0.80, 0.70}
	for i, conf := range confs {
		photo := createPhoto(t, photos, "ev1")
		if err := photos.SetDerivatives(ctx, photo.ID, "t.jpg", "w.jpg", 100, 100); err != nil {
			t.Fatal(err)
		}
		if err := photos.MarkProcessed(ctx, photo.ID); err != nil {
			t.Fatal(err)
		}
		if err := bibs.ReplaceDetected(ctx, photo.ID, "ev1", []database.PhotoBib{{Bib: "42", Confidence: conf}}); err != nil {
			t.Fatal(err)
		}
		_ = i
	}
	// A pending photo must never surface.
	pending := createPhoto(t, photos, "ev1")
	if err := bibs.ReplaceDetected(ctx, pending.ID, "ev1", []database.PhotoBib{{Bib: "42", Confidence: 0.99}}); err != nil {
		t.Fatal(err)
	}

	total, err := bibs.CountByBib(ctx, "ev1", "42")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}

	var all []database.BibSearchRow
	var after *database.BibCursorKey
	for {
		page, err := bibs.SearchByBib(ctx, "ev1", "42", after, 2)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		last := page[len(page)-1]
		key := database.BibCursorKey{Confidence: last.Confidence, PhotoID: last.PhotoID}
		if last.TakenAt != nil {
			key.TakenAt = *last.TakenAt
		} else {
			key.TakenAt = time.Unix(0, 0).UTC()
		}
		after = &key
	}

	if len(all) != 5 {
		t.Fatalf("pagination returned %d rows, want all 5", len(all))
	}
	seen := map[string]bool{}
	for i, row := range all {
		if seen[row.PhotoID] {
			t.Errorf("photo %s returned twice", row.PhotoID)
		}
		seen[row.PhotoID] = true
		if i > 0 && row.Confidence > all[i-1].Confidence {
			t.Error("results not ordered by confidence desc")
		}
	}
}

func TestFaceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	photos := NewPhotoRepository(pool)
	faces := NewFaceRepository(pool)
	photo := createPhoto(t, photos, "ev1")

	emb := make([]float32, 512)
	emb[0] = 0.5
	stored := []database.FaceEmbedding{{
		Embedding:  emb,
		Confidence: 0.92,
		BBox:       database.BBox{X: 1, Y: 2, W: 30, H: 40},
	}}
	if err := faces.ReplaceForPhoto(ctx, photo.ID, "ev1", stored); err != nil {
		t.Fatalf("replace faces: %v", err)
	}

	got, err := faces.ListByPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("list faces: %v", err)
	}
	if len(got) != 1 || got[0].Embedding[0] != 0.5 || got[0].BBox.W != 30 {
		t.Errorf("unexpected faces: %+v", got)
	}

	// Pending photos are invisible to the event scan.
	event, err := faces.ListByEvent(ctx, "ev1")
	if err != nil {
		t.Fatalf("list event faces: %v", err)
	}
	if len(event) != 0 {
		t.Errorf("pending photo leaked into event scan: %+v", event)
	}

	if err := photos.SetDerivatives(ctx, photo.ID, "t.jpg", "w.jpg", 100, 100); err != nil {
		t.Fatal(err)
	}
	if err := photos.MarkProcessed(ctx, photo.ID); err != nil {
		t.Fatal(err)
	}
	event, err = faces.ListByEvent(ctx, "ev1")
	if err != nil {
		t.Fatalf("list event faces: %v", err)
	}
	if len(event) != 1 {
		t.Fatalf("expected 1 event face, got %d", len(event))
	}
}

func TestBatchCounters(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	batches := NewBatchRepository(pool)

	batch := &database.BatchUploadJob{EventID: "ev1", TotalFiles: 3}
	if err := batches.Create(ctx, batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	if err := batches.AddOutcome(ctx, batch.ID, database.StageOCR, true); err != nil {
		t.Fatalf("add outcome: %v", err)
	}
	if err := batches.AddOutcome(ctx, batch.ID, database.StageOCR, false); err != nil {
		t.Fatalf("add outcome: %v", err)
	}
	if err := batches.AddOutcome(ctx, batch.ID, database.StageFace, true); err != nil {
		t.Fatalf("add outcome: %v", err)
	}

	got, err := batches.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.OCROK != 1 || got.OCRFailed != 1 || got.FaceOK != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.Status != database.BatchProcessing {
		t.Errorf("batch status = %s, want PROCESSING", got.Status)
	}

	if err := batches.Complete(ctx, batch.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = batches.Get(ctx, batch.ID)
	if got.Status != database.BatchCompleted {
		t.Errorf("batch status = %s, want COMPLETED", got.Status)
	}
}

func TestRulesRoundTrip(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	rules := NewRulesRepository(pool)

	missing, err := rules.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing rules: %v", err)
	}
	if missing != nil {
		t.Error("expected nil rules for unconfigured event")
	}

	min, max := 1, 5000
	norm := false
	in := &ocr.Rules{
		DigitsOnly:          true,
		MinLength:           2,
		MaxLength:           4,
		Whitelist:           []string{"100", "200"},
		MinNumber:           &min,
		MaxNumber:           &max,
		NormalizeConfusions: &norm,
	}
	if err := rules.Upsert(ctx, "ev1", in); err != nil {
		t.Fatalf("upsert rules: %v", err)
	}

	got, err := rules.Get(ctx, "ev1")
	if err != nil {
		t.Fatalf("get rules: %v", err)
	}
	if !got.DigitsOnly || got.MinLength != 2 || got.MaxLength != 4 {
		t.Errorf("unexpected rules: %+v", got)
	}
	if got.MinNumber == nil || *got.MinNumber != 1 || got.MaxNumber == nil || *got.MaxNumber != 5000 {
		t.Errorf("range not round-tripped: %+v", got)
	}
	if got.NormalizeConfusions == nil || *got.NormalizeConfusions != false {
		t.Errorf("normalize flag not round-tripped: %+v", got)
	}
	if len(got.Whitelist) != 2 {
		t.Errorf("whitelist not round-tripped: %+v", got.Whitelist)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	photos := NewPhotoRepository(pool)
	audit := NewAuditRepository(pool)
	photo := createPhoto(t, photos, "ev1")

	entry := &database.AuditLog{
		PhotoID: photo.ID,
		UserID:  "admin-1",
		Action:  "bib_added",
		Detail:  []byte(`{"bib":"123"}`),
	}
	if err := audit.Append(ctx, entry); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	got, err := audit.ListByPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(got) != 1 || got[0].Action != "bib_added" {
		t.Errorf("unexpected audit rows: %+v", got)
	}
}
