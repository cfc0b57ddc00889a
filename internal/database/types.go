// Package database defines the persistent domain model and the repository
// interfaces the services depend on. Postgres implementations live in the
// postgres subpackage.
package database

import (
	"encoding/json"
	"time"
)

// PhotoStatus is the processing lifecycle state of a photo.
type PhotoStatus string

const (
	PhotoPending   PhotoStatus = "PENDING"
	PhotoProcessed PhotoStatus = "PROCESSED"
	PhotoFailed    PhotoStatus = "FAILED"
)

// BibSource records where a bib row came from.
type BibSource string

const (
	BibSourceGemini BibSource = "GEMINI"
	BibSourceManual BibSource = "MANUAL"
)

// BatchStatus is the lifecycle state of a batch upload job.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
)

// BBox is a bounding box in pixel coordinates of the original image.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Photo is one ingested photograph.
type Photo struct {
	ID             string
	EventID        string
	PhotographerID string
	BatchID        *string

	StorageKey   string
	ThumbnailKey string
	WatermarkKey string
	Width        int
	Height       int

	Status          PhotoStatus
	ProcessingError *string

	TakenAt   *time.Time
	CreatedAt time.Time
}

// PhotoBib is one bib number detected on (or manually assigned to) a photo.
type PhotoBib struct {
	ID         string
	PhotoID    string
	EventID    string
	Bib        string
	Confidence float64
	BBox       *BBox
	Source     BibSource
	CreatedAt  time.Time
}

// FaceEmbedding is one face found in a photo, with its vector.
type FaceEmbedding struct {
	ID         string
	PhotoID    string
	EventID    string
	Embedding  []float32
	Confidence float64
	BBox       BBox
	Age        *int
	Gender     *string
	CreatedAt  time.Time
}

// BatchUploadJob tracks progress of one batch ingest.
type BatchUploadJob struct {
	ID      string
	EventID string

	TotalFiles       int
	UploadedOK       int
	UploadedFailed   int
	DerivativeOK     int
	DerivativeFailed int
	OCROK            int
	OCRFailed        int
	FaceOK           int
	FaceFailed       int

	Status    BatchStatus
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Stage names the pipeline stages a batch counts outcomes for.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageDerivative Stage = "derivative"
	StageOCR        Stage = "ocr"
	StageFace       Stage = "face"
)

// AuditLog is one append-only audit record for a manual change.
type AuditLog struct {
	ID        string
	PhotoID   string
	UserID    string
	Action    string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// BibSearchRow is one bib search hit joined with its photo.
type BibSearchRow struct {
	PhotoID      string
	StorageKey   string
	ThumbnailKey string
	WatermarkKey string
	Confidence   float64
	TakenAt      *time.Time
}

// EventFace is one stored face embedding joined with its photo, the unit
// the face search engine scans.
type EventFace struct {
	FaceID       string
	PhotoID      string
	StorageKey   string
	ThumbnailKey string
	WatermarkKey string
	Embedding    []float32
	Confidence   float64
	BBox         BBox
	TakenAt      *time.Time
}

// BibCursorKey is the ordering tuple a bib search page continues after.
type BibCursorKey struct {
	Confidence float64
	TakenAt    time.Time
	PhotoID    string
}
