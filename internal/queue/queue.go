package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/pkg/models"
)

const (
	ClassifyQueueName      = "classify_jobs"
	ExchangeName           = "vidsecure"
	RetryQueueName         = "classify_jobs_retry"
	DeadLetterQueueName    = "classify_jobs_dlq"
	DeadLetterExchangeName = "vidsecure_dlq"
)

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New creates a new queue client and declares the work, retry and
// dead-letter topology
func New(cfg config.QueueConfig) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{conn: conn, channel: channel}
	if err := q.declareTopology(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declareTopology() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		ClassifyQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = q.channel.QueueBind(ClassifyQueueName, ClassifyQueueName, ExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Retry queue: expired messages dead-letter back onto the work queue,
	// which gives us delayed redelivery with per-message backoff.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": ClassifyQueueName,
	}
	_, err = q.channel.QueueDeclare(RetryQueueName, true, false, false, false, retryArgs)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	err = q.channel.ExchangeDeclare(DeadLetterExchangeName, "direct", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = q.channel.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Publish publishes a classification job to the work queue
func (q *Queue) Publish(ctx context.Context, job *models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		ClassifyQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"x-attempt-count": int32(job.AttemptCount),
			},
		},
	)
	if err != nil {
		return &models.TransientInfraError{Op: "queue publish", Err: err}
	}

	return nil
}

// PublishRetry parks a job on the retry queue; it re-enters the work queue
// after the given delay
func (q *Queue) PublishRetry(ctx context.Context, job *models.Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		"",
		RetryQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   fmt.Sprintf("%d", delay.Milliseconds()),
			Headers: amqp.Table{
				"x-attempt-count": int32(job.AttemptCount),
			},
		},
	)
	if err != nil {
		return &models.TransientInfraError{Op: "retry publish", Err: err}
	}

	return nil
}

// PublishDeadLetter moves a job that exhausted its retry budget to the DLQ
func (q *Queue) PublishDeadLetter(ctx context.Context, job *models.Job, reason string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"x-failure-reason": reason,
				"x-failed-at":      time.Now().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		return &models.TransientInfraError{Op: "dlq publish", Err: err}
	}

	return nil
}

// Consume delivers jobs to handler across the given number of concurrent
// consumers. The delivery is acked when handler returns nil and requeued
// otherwise; handlers own retry and dead-letter decisions.
func (q *Queue) Consume(ctx context.Context, concurrency int, handler func(context.Context, *models.Job) error) error {
	if concurrency < 1 {
		concurrency = 1
	}

	err := q.channel.Qos(
		concurrency, // prefetch count
		0,           // prefetch size
		false,       // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		ClassifyQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}

					var job models.Job
					if err := json.Unmarshal(msg.Body, &job); err != nil {
						msg.Nack(false, false)
						continue
					}

					if err := handler(ctx, &job); err != nil {
						msg.Nack(false, true)
					} else {
						msg.Ack(false)
					}
				}
			}
		}()
	}

	return nil
}

// Depth returns the number of messages waiting in the work queue
func (q *Queue) Depth() (int, error) {
	info, err := q.channel.QueueInspect(ClassifyQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

// DLQDepth returns the number of messages in the dead letter queue
func (q *Queue) DLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}
