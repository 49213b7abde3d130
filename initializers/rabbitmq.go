package initializers

import (
	"fmt"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitChannel connects to the broker and opens the channel the cleanup
// queue lives on. The caller owns closing the connection.
func NewRabbitChannel() (*amqp.Connection, *amqp.Channel, error) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		return nil, nil, fmt.Errorf("RABBITMQ_URL is not set")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}
