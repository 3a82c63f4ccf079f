package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes tasks to durable RabbitMQ queues (one per topic) and consumes them
// with manual acks. Failed deliveries are re-published with an incremented retry header.
type AMQPQueue struct {
	conn *amqp.Connection

	mu  sync.Mutex
	pub *amqp.Channel

	MaxRetries int
	Prefetch   int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func DialAMQP(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		conn:       conn,
		pub:        ch,
		MaxRetries: 3,
		Prefetch:   8,
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With().Str("component", "amqp_queue").Logger(),
	}, nil
}

func declare(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, task SendTask) error {
	return q.publish(topic, task, 0)
}

func (q *AMQPQueue) publish(topic string, task SendTask, retry int) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := declare(q.pub, topic); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Headers:      amqp.Table{retryHeader: int32(retry)},
		Body:         body,
	})
}

// Subscribe opens a dedicated channel and processes deliveries until Close.
func (q *AMQPQueue) Subscribe(topic string, consumer Consumer) error {
	if consumer.Handle == nil {
		return fmt.Errorf("consumer for topic %s has no handler", topic)
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(q.Prefetch, 0, false); err != nil {
		ch.Close()
		return err
	}
	qd, err := declare(ch, topic)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	msgs, err := ch.Consume(
		qd.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer ch.Close()
		q.consume(topic, consumer, msgs)
	}()
	return nil
}

// consume runs up to Prefetch deliveries at once until the queue closes or msgs ends.
// A delivery still waiting for a slot at shutdown goes back to the broker.
func (q *AMQPQueue) consume(topic string, consumer Consumer, msgs <-chan amqp.Delivery) {
	sem := make(chan struct{}, max(q.Prefetch, 1))
	for {
		select {
		case <-q.ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-q.ctx.Done():
				d.Nack(false, true)
				return
			}
			q.wg.Add(1)
			go func(d amqp.Delivery) {
				defer q.wg.Done()
				defer func() { <-sem }()
				q.handleDelivery(topic, consumer, d)
			}(d)
		}
	}
}

func (q *AMQPQueue) handleDelivery(topic string, c Consumer, d amqp.Delivery) {
	var task SendTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		q.log.Warn().Err(err).Str("message_id", d.MessageId).Msg("invalid job")
		d.Ack(false)
		return
	}

	err := runHandler(q.ctx, c.Handle, task)
	if err == nil {
		d.Ack(false)
		return
	}
	if q.ctx.Err() != nil {
		// shutting down: hand the delivery back to the broker untouched
		d.Nack(false, true)
		return
	}

	retry := retryCount(d.Headers)
	log := q.log.With().Int("recipient_id", task.RecipientID).Int("retry", retry).Logger()
	if retry < q.MaxRetries {
		if perr := q.publish(topic, task, retry+1); perr != nil {
			log.Error().Err(perr).Msg("failed to re-publish job, requeueing")
			d.Nack(false, true)
			return
		}
		log.Warn().Err(err).Msg("job failed, re-published")
		d.Ack(false)
		return
	}

	log.Error().Err(err).Msg("job permanently failed")
	if c.OnFailure != nil {
		c.OnFailure(q.ctx, task, err)
	}
	d.Ack(false)
}

// retryCount reads the retry header regardless of the integer width the broker hands back.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pub.Close()
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
