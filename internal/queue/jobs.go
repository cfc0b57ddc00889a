// Package queue moves pipeline jobs through NATS JetStream. One stream
// per job type, with a priority subject bucket inside each stream.
package queue

import (
	"strings"
	"time"
)

// Queue names one job type / JetStream stream.
type Queue string

const (
	QueueProcessPhoto   Queue = "process-photo"
	QueueProcessFace    Queue = "process-face"
	QueueReprocessPhoto Queue = "reprocess-photo"
	QueueSendEmail      Queue = "send-email"
)

// Queues lists every stream the system uses.
var Queues = []Queue{QueueProcessPhoto, QueueProcessFace, QueueReprocessPhoto, QueueSendEmail}

// StreamName is the JetStream stream for this queue.
func (q Queue) StreamName() string {
	return strings.ToUpper(strings.ReplaceAll(string(q), "-", "_"))
}

// Priority buckets inside a stream. The consumer drains high before
// normal.
const (
	BucketNormal = "normal"
	BucketHigh   = "high"

	// Numeric priorities at or above this publish into the high bucket.
	highPriorityThreshold = 5
	// MaxPriority is what force-reprocess enqueues at.
	MaxPriority = 10
)

// bucketFor maps a numeric job priority onto a subject bucket.
func bucketFor(priority int) string {
	if priority >= highPriorityThreshold {
		return BucketHigh
	}
	return BucketNormal
}

// subject builds the full subject for a queue and priority.
func (q Queue) subject(priority int) string {
	return string(q) + "." + bucketFor(priority)
}

// ProcessPhotoJob runs the full pipeline for one photo.
type ProcessPhotoJob struct {
	PhotoID    string  `json:"photo_id"`
	EventID    string  `json:"event_id"`
	StorageKey string  `json:"storage_key"`
	BatchID    *string `json:"batch_id,omitempty"`
	Priority   int     `json:"priority"`
}

// ProcessFaceJob runs only the face extraction stage.
type ProcessFaceJob struct {
	PhotoID    string `json:"photo_id"`
	EventID    string `json:"event_id"`
	StorageKey string `json:"storage_key"`
}

// ReprocessPhotoJob re-runs OCR for a photo, typically with the stronger
// model strategy.
type ReprocessPhotoJob struct {
	PhotoID  string `json:"photo_id"`
	Strategy string `json:"strategy"` // "flash" or "pro"
	Priority int    `json:"priority"`
}

// SendBibEmailJob notifies a participant about their photos.
type SendBibEmailJob struct {
	EventID  string   `json:"event_id"`
	Bib      string   `json:"bib"`
	Email    string   `json:"email"`
	PhotoIDs []string `json:"photo_ids,omitempty"`
}

const backoffCeiling = 60 * time.Second

// RetryBackoff computes the redelivery delay after the given delivery
// attempt (1-based): base, 2x base, 4x base, capped.
func RetryBackoff(base time.Duration, delivered uint64) time.Duration {
	if delivered < 1 {
		delivered = 1
	}
	backoff := base
	for i := uint64(1); i < delivered; i++ {
		backoff *= 2
		if backoff >= backoffCeiling {
			return backoffCeiling
		}
	}
	if backoff > backoffCeiling {
		return backoffCeiling
	}
	return backoff
}
