// Package search implements the recognition-backed retrieval engine:
// exact bib lookup with keyset pagination, face-similarity scan and the
// hybrid union of both.
package search

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/faults"
)

const cursorVersion = 1

// cursorEnvelope is the wire form of a pagination cursor. Versioned so a
// format change invalidates old tokens instead of misreading them.
type cursorEnvelope struct {
	V          int       `json:"v"`
	Confidence float64   `json:"confidence"`
	TakenAt    time.Time `json:"taken_at"`
	PhotoID    string    `json:"photo_id"`
}

// encodeCursor turns the last row of a page into an opaque token.
func encodeCursor(key database.BibCursorKey) string {
	payload, _ := json.Marshal(cursorEnvelope{
		V:          cursorVersion,
		Confidence: key.Confidence,
		TakenAt:    key.TakenAt,
		PhotoID:    key.PhotoID,
	})
	return base64.URLEncoding.EncodeToString(payload)
}

// decodeCursor parses a client-supplied token. Anything malformed is a
// ValidationError, not a server fault.
func decodeCursor(token string) (*database.BibCursorKey, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, faults.Validationf("malformed cursor: %v", err)
	}

	var env cursorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, faults.Validationf("malformed cursor: %v", err)
	}
	if env.V != cursorVersion {
		return nil, faults.Validationf("unsupported cursor version %d", env.V)
	}
	if env.PhotoID == "" {
		return nil, faults.Validationf("cursor missing photo id")
	}

	return &database.BibCursorKey{
		Confidence: env.Confidence,
		TakenAt:    env.TakenAt,
		PhotoID:    env.PhotoID,
	}, nil
}
