package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStreamNames(t *testing.T) {
	tests := []struct {
		queue Queue
		want  string
	}{
		{QueueProcessPhoto, "PROCESS_PHOTO"},
		{QueueProcessFace, "PROCESS_FACE"},
		{QueueReprocessPhoto, "REPROCESS_PHOTO"},
		{QueueSendEmail, "SEND_EMAIL"},
	}
	for _, tt := range tests {
		if got := tt.queue.StreamName(); got != tt.want {
			t.Errorf("StreamName(%s) = %s, want %s", tt.queue, got, tt.want)
		}
	}
}

func TestPriorityBuckets(t *testing.T) {
	tests := []struct {
		priority int
		want     string
	}{
		{0, "process-photo.normal"},
		{4, "process-photo.normal"},
		{5, "process-photo.high"},
		{MaxPriority, "process-photo.high"},
	}
	for _, tt := range tests {
		if got := QueueProcessPhoto.subject(tt.priority); got != tt.want {
			t.Errorf("subject(%d) = %s, want %s", tt.priority, got, tt.want)
		}
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		name      string
		base      time.Duration
		delivered uint64
		want      time.Duration
	}{
		{"first attempt", 2 * time.Second, 1, 2 * time.Second},
		{"second attempt", 2 * time.Second, 2, 4 * time.Second},
		{"third attempt", 2 * time.Second, 3, 8 * time.Second},
		{"email base", time.Second, 2, 2 * time.Second},
		{"reprocess base", 5 * time.Second, 2, 10 * time.Second},
		{"capped", 2 * time.Second, 10, backoffCeiling},
		{"zero delivered treated as first", 2 * time.Second, 0, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryBackoff(tt.base, tt.delivered); got != tt.want {
				t.Errorf("RetryBackoff(%v, %d) = %v, want %v", tt.base, tt.delivered, got, tt.want)
			}
		})
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	batchID := "b-1"
	in := ProcessPhotoJob{
		PhotoID:    "p-1",
		EventID:    "ev-1",
		StorageKey: "events/ev-1/originals/p-1.jpg",
		BatchID:    &batchID,
		Priority:   7,
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ProcessPhotoJob
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.PhotoID != in.PhotoID || out.BatchID == nil || *out.BatchID != batchID || out.Priority != 7 {
		t.Errorf("round trip mismatch: %+v", out)
	}

	// Payloads from older producers without the optional fields still parse.
	var sparse ProcessPhotoJob
	if err := json.Unmarshal([]byte(`{"photo_id":"p-2","event_id":"ev-1","storage_key":"k"}`), &sparse); err != nil {
		t.Fatalf("unmarshal sparse payload: %v", err)
	}
	if sparse.BatchID != nil || sparse.Priority != 0 {
		t.Errorf("unexpected defaults: %+v", sparse)
	}
}
