package messaging

import (
	"context"
	"fmt"
	"time"
)

const (
	ProcessVariantQueue = "process_variant"
	DefaultQueuePrefix  = "kakigoori"
	RetryDelay          = 5 * time.Second
	MaxConnectRetry     = 5
)

// FormatQueue is the inbound queue for one image format.
func FormatQueue(prefix, format string) string {
	return fmt.Sprintf("%s_%s", prefix, format)
}

type Task interface {
	Queue() string

	Payload() []byte

	Ack() error
}

type Publisher interface {
	Publish(ctx context.Context, body []byte) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	// Err reports why the task stream ended. It is only meaningful once
	// Tasks() has been closed; nil means the stream was closed gracefully.
	Err() error

	Close()
}

// Broker opens subscriptions and publishers on durable queues. Each call
// returns a handle on its own channel so that consumers and publishers of
// different formats never share one.
type Broker interface {
	Subscribe(queue string) (Reciever, error)

	NewPublisher(queue string) (Publisher, error)

	Close() error
}
