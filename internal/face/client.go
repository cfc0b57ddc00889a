// Package face talks to the face embedding service and compares the
// resulting vectors.
package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/faults"
	"github.com/racepix/racepix/internal/storage"
)

const faceServiceName = "face-embedding"

// Detection is a single face found in a photo.
type Detection struct {
	FaceIndex int       `json:"face_index"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
	Age       *int      `json:"age,omitempty"`
	Gender    *string   `json:"gender,omitempty"`
}

// faceResponse is the wire shape of the embedding service.
type faceResponse struct {
	FacesCount int         `json:"faces_count"`
	Faces      []Detection `json:"faces"`
	Model      string      `json:"model"`
}

// Client extracts face embeddings through the embedding service HTTP API.
type Client struct {
	baseURL       string
	maxFaces      int
	minConfidence float64
	dim           int
	client        *http.Client
}

func NewClient(cfg config.FaceConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimSuffix(cfg.ServiceURL, "/"),
		maxFaces:      cfg.MaxFaces,
		minConfidence: cfg.MinConfidence,
		dim:           cfg.Dim,
		client:        &http.Client{Timeout: timeout},
	}
}

// Extract posts the image to the embedding service and returns the faces
// that pass the confidence filter, capped at the configured maximum.
// Service failures come back as faults.ExternalServiceError.
func (c *Client) Extract(ctx context.Context, imageData []byte) ([]Detection, error) {
	body, err := c.postMultipartImage(ctx, "/embed/faces", imageData)
	if err != nil {
		return nil, &faults.ExternalServiceError{Service: faceServiceName, Err: err}
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &faults.ExternalServiceError{Service: faceServiceName, Err: fmt.Errorf("parse response: %w", err)}
	}

	faces := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if f.DetScore < c.minConfidence {
			continue
		}
		if c.dim > 0 && len(f.Embedding) != c.dim {
			return nil, &faults.ExternalServiceError{
				Service: faceServiceName,
				Err:     fmt.Errorf("embedding dimension %d, expected %d", len(f.Embedding), c.dim),
			}
		}
		faces = append(faces, f)
	}

	if c.maxFaces > 0 && len(faces) > c.maxFaces {
		slog.Warn("photo exceeds face cap, keeping most confident faces",
			"found", len(faces), "cap", c.maxFaces)
		faces = topByScore(faces, c.maxFaces)
	}

	return faces, nil
}

// topByScore keeps the n highest-scored detections, preserving the
// detector's face order within the kept set.
func topByScore(faces []Detection, n int) []Detection {
	kept := make([]Detection, len(faces))
	copy(kept, faces)

	// Selection over a small, capped slice.
	for i := 0; i < n; i++ {
		best := i
		for j := i + 1; j < len(kept); j++ {
			if kept[j].DetScore > kept[best].DetScore {
				best = j
			}
		}
		kept[i], kept[best] = kept[best], kept[i]
	}
	kept = kept[:n]

	out := make([]Detection, 0, n)
	for _, f := range faces {
		for _, k := range kept {
			if k.FaceIndex == f.FaceIndex {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", storage.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
