package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/observability"
)

// Handler processes one job payload. A returned error triggers a
// redelivery with backoff until the retry policy is exhausted.
type Handler func(ctx context.Context, payload []byte) error

// ExhaustedHandler runs when a job has burned its last delivery. The
// message is terminated afterwards either way.
type ExhaustedHandler func(ctx context.Context, payload []byte, lastErr error)

// Consumer drains one or more queues with durable JetStream consumers.
type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
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

	return &Consumer{nc: nc, js: js}, nil
}

// Consume starts workers for one queue. Each fetch round drains the
// high-priority consumer before touching the normal one, giving recovery
// re-enqueues precedence without starving regular traffic forever.
func (c *Consumer) Consume(ctx context.Context, q Queue, policy config.RetryPolicy, workers int, handler Handler, exhausted ExhaustedHandler) error {
	stream, err := c.js.Stream(ctx, q.StreamName())
	if err != nil {
		return fmt.Errorf("get stream %s: %w", q.StreamName(), err)
	}

	buckets := []string{BucketHigh, BucketNormal}
	consumers := make([]jetstream.Consumer, 0, len(buckets))
	for _, bucket := range buckets {
		name := string(q) + "-" + bucket
		cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          name,
			Durable:       name,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       2 * time.Minute,
			MaxDeliver:    policy.MaxAttempts,
			FilterSubject: string(q) + "." + bucket,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", name, err)
		}
		consumers = append(consumers, cons)
	}

	msgCh := make(chan jetstream.Msg, workers*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			fetched := 0
			for _, cons := range consumers {
				batch, err := cons.Fetch(workers, jetstream.FetchMaxWait(2*time.Second))
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					slog.Warn("fetch jobs error", "queue", q, "error", err)
					continue
				}
				for msg := range batch.Messages() {
					fetched++
					select {
					case msgCh <- msg:
					case <-ctx.Done():
						return
					}
				}
				// High bucket yielded work; come back to it before
				// draining normal.
				if fetched > 0 {
					break
				}
			}
			if fetched == 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}()

	for i := 0; i < workers; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				c.handleMsg(ctx, q, policy, workerID, msg, handler, exhausted)
			}
		}(i)
	}

	slog.Info("queue consumer started", "queue", q, "workers", workers, "max_attempts", policy.MaxAttempts)
	return nil
}

func (c *Consumer) handleMsg(ctx context.Context, q Queue, policy config.RetryPolicy, workerID int, msg jetstream.Msg, handler Handler, exhausted ExhaustedHandler) {
	err := handler(ctx, msg.Data())
	if err == nil {
		_ = msg.Ack()
		return
	}

	delivered := uint64(1)
	if meta, metaErr := msg.Metadata(); metaErr == nil {
		delivered = meta.NumDelivered
	}

	if delivered >= uint64(policy.MaxAttempts) {
		slog.Error("job exhausted retries", "queue", q, "worker", workerID,
			"delivered", delivered, "error", err)
		if exhausted != nil {
			exhausted(ctx, msg.Data(), err)
		}
		_ = msg.Term()
		return
	}

	backoff := RetryBackoff(policy.Backoff, delivered)
	slog.Warn("job failed, scheduling retry", "queue", q, "worker", workerID,
		"delivered", delivered, "backoff", backoff, "error", err)
	observability.JobRetries.WithLabelValues(string(q)).Inc()
	_ = msg.NakWithDelay(backoff)
}

func (c *Consumer) Close() {
	c.nc.Close()
}
