package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/suPer8Hu/community-chat/internal/store/rabbitmq")

var ErrBadMessage = errors.New("rabbitmq: bad job message")

// JobHandler processes one job. A non-nil error dead-letters the delivery.
type JobHandler func(ctx context.Context, jobID string) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// DecodeJobID extracts the job id from a delivery body.
func DecodeJobID(body []byte) (string, error) {
	var m SendJobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", err
	}
	if m.JobID == "" {
		return "", ErrBadMessage
	}
	return m.JobID, nil
}

// Run consumes until ctx is done, then drains the worker pool.
func (c *Consumer) Run(ctx context.Context, handle JobHandler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("[Worker] started queue=%s concurrency=%d", c.queue, c.concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, c.concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				jobID, err := DecodeJobID(d.Body)
				if err != nil {
					log.Printf("[Worker] worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				jctx, span := tracer.Start(ctx, "chat.ProcessJob", trace.WithAttributes(attribute.String("job.id", jobID)))
				err = handle(jctx, jobID)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
				if err != nil {
					log.Printf("[Worker] worker=%d job=%s failed cost=%s err=%v", workerID, jobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}
				if cost := time.Since(start); cost > 2*time.Second {
					log.Printf("[Worker] worker=%d job=%s slow cost=%s", workerID, jobID, cost)
				}

				if err := d.Ack(false); err != nil {
					log.Printf("[Worker] worker=%d ack failed job=%s err=%v", workerID, jobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("rabbitmq: delivery channel closed")
			}
			jobs <- d
		}
	}
}
