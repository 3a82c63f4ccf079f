package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SendTopic carries one SendTask per claimed recipient.
const SendTopic = "broadcast_sends"

// SendTask asks a worker to deliver one recipient. Workers re-read state, so stale tasks are harmless.
type SendTask struct {
	RecipientID int `json:"recipient_id"`
	BroadcastID int `json:"broadcast_id"`
}

type Handler func(ctx context.Context, task SendTask) error

// FailureHandler runs once a task has exhausted its retries or crashed on the last attempt.
type FailureHandler func(ctx context.Context, task SendTask, cause error)

type Consumer struct {
	Handle    Handler
	OnFailure FailureHandler
}

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, task SendTask) error
	Subscribe(topic string, consumer Consumer) error
	Close() error
}

// InMemoryQueue runs every task on its own goroutine with bounded concurrency and retry.
// Delivery is at-least-once for the lifetime of the process only.
type InMemoryQueue struct {
	mu        sync.Mutex
	consumers map[string][]Consumer

	MaxRetries int
	Backoff    time.Duration

	sem  chan struct{}
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc
	log  zerolog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(concurrency int, log zerolog.Logger) *InMemoryQueue {
	if concurrency <= 0 {
		concurrency = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		consumers:  make(map[string][]Consumer),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		sem:        make(chan struct{}, concurrency),
		ctx:        ctx,
		stop:       cancel,
		log:        log.With().Str("component", "memory_queue").Logger(),
	}
}

// Publish hands the task to every subscriber of topic.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, task SendTask) error {
	// the closed check and wg.Add happen under mu so Close never waits while jobs are added
	q.mu.Lock()
	defer q.mu.Unlock()

	consumers := q.consumers[topic]
	if len(consumers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	if err := q.ctx.Err(); err != nil {
		return fmt.Errorf("queue closed: %w", err)
	}

	for _, c := range consumers {
		q.wg.Add(1)
		go q.processJob(c, task)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(c Consumer, task SendTask) {
	defer q.wg.Done()

	select {
	case q.sem <- struct{}{}:
	case <-q.ctx.Done():
		return
	}
	defer func() { <-q.sem }()

	var lastErr error
	for attempt := 0; attempt <= q.MaxRetries; attempt++ {
		lastErr = runHandler(q.ctx, c.Handle, task)
		if lastErr == nil {
			return // ACK
		}
		if q.ctx.Err() != nil {
			// shutting down: leave the recipient queued for stale reclaim
			return
		}
		q.log.Warn().Err(lastErr).
			Int("recipient_id", task.RecipientID).
			Int("attempt", attempt+1).
			Int("max_retries", q.MaxRetries).
			Msg("job failed")

		if attempt < q.MaxRetries {
			select {
			case <-time.After(time.Duration(attempt+1) * q.Backoff):
			case <-q.ctx.Done():
				return
			}
		}
	}

	q.log.Error().Err(lastErr).Int("recipient_id", task.RecipientID).Msg("job permanently failed")
	if c.OnFailure != nil {
		c.OnFailure(q.ctx, task, lastErr)
	}
}

// Subscribe adds a consumer for a topic
func (q *InMemoryQueue) Subscribe(topic string, consumer Consumer) error {
	if consumer.Handle == nil {
		return fmt.Errorf("consumer for topic %s has no handler", topic)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.consumers[topic] = append(q.consumers[topic], consumer)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close stops accepting work, interrupts backoff sleeps and waits for running jobs.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.stop()
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// runHandler converts a panic in the handler into an error so it goes through retry and OnFailure.
func runHandler(ctx context.Context, h Handler, task SendTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in send task: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, task)
}

var _ Queue = (*InMemoryQueue)(nil)
