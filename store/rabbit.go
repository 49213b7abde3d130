package store

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fadelink/fadelink/models"
)

// QueueName is the durable cleanup queue shared by publishers and the worker.
const QueueName = "file_cleanup"

// RabbitQueue implements CleanupQueue on a RabbitMQ channel.
type RabbitQueue struct {
	ch *amqp.Channel
}

// NewRabbitQueue declares the durable cleanup queue on ch. Declaration is
// idempotent, so publisher and worker can both run it.
func NewRabbitQueue(ch *amqp.Channel) (*RabbitQueue, error) {
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", QueueName, err)
	}
	return &RabbitQueue{ch: ch}, nil
}

func (q *RabbitQueue) Publish(ctx context.Context, job models.CleanupJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode cleanup job: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish cleanup job: %w", err)
	}
	return nil
}

// Consume opens the delivery stream for the cleanup worker. Deliveries must
// be acked or requeued explicitly; unacked ones come back after the channel
// closes.
func (q *RabbitQueue) Consume() (<-chan amqp.Delivery, error) {
	deliveries, err := q.ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", QueueName, err)
	}
	return deliveries, nil
}

var _ CleanupQueue = (*RabbitQueue)(nil)
