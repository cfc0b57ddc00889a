package pipeline

import (
	"context"
	"log/slog"
)

// BibMailing is one "your photos are ready" notification.
type BibMailing struct {
	Email     string
	EventID   string
	Bib       string
	PhotoURLs []string
}

// Mailer delivers bib notifications. Template rendering and actual
// delivery live behind this boundary.
type Mailer interface {
	SendBibPhotos(ctx context.Context, mailing BibMailing) error
}

// LogMailer is the default Mailer: it records the mailing instead of
// sending it, which is enough for environments without a mail provider.
type LogMailer struct{}

func (LogMailer) SendBibPhotos(ctx context.Context, mailing BibMailing) error {
	slog.Info("bib mailing ready",
		"email", mailing.Email,
		"event", mailing.EventID,
		"bib", mailing.Bib,
		"photos", len(mailing.PhotoURLs))
	return nil
}
