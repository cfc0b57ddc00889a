package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Producer publishes jobs into the JetStream streams.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream

	// enqueueDelay is the pause between creating a photo record and
	// publishing its job, so workers never race record visibility.
	enqueueDelay time.Duration
}

func NewProducer(natsURL string, enqueueDelay time.Duration) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js, enqueueDelay: enqueueDelay}, nil
}

// EnsureStreams creates the job streams if they don't exist. Retries to
// ride out NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, q := range Queues {
			cfg := jetstream.StreamConfig{
				Name:        q.StreamName(),
				Subjects:    []string{string(q) + ".>"},
				Retention:   jetstream.WorkQueuePolicy,
				MaxAge:      24 * time.Hour,
				MaxMsgs:     1_000_000,
				Storage:     jetstream.FileStorage,
				Discard:     jetstream.DiscardOld,
				Duplicates:  30 * time.Second,
				Description: "racepix " + string(q) + " jobs",
			}

			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// Enqueue publishes a job immediately into the queue's priority bucket.
func (p *Producer) Enqueue(ctx context.Context, q Queue, priority int, job any) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal %s job: %w", q, err)
	}

	if _, err := p.js.Publish(ctx, q.subject(priority), payload); err != nil {
		return fmt.Errorf("publish %s job: %w", q, err)
	}
	return nil
}

// EnqueueAfterDelay publishes a job after the configured enqueue delay
// without blocking the caller. Publish failures are logged; the recovery
// scanner picks up photos whose job never made it out.
func (p *Producer) EnqueueAfterDelay(q Queue, priority int, job any) {
	payload, err := json.Marshal(job)
	if err != nil {
		slog.Error("marshal delayed job", "queue", q, "error", err)
		return
	}

	time.AfterFunc(p.enqueueDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := p.js.Publish(ctx, q.subject(priority), payload); err != nil {
			slog.Error("publish delayed job", "queue", q, "error", err)
		}
	})
}

// QueueDepth reports pending messages in one stream.
func (p *Producer) QueueDepth(ctx context.Context, q Queue) (uint64, error) {
	stream, err := p.js.Stream(ctx, q.StreamName())
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
