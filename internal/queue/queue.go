package queue

import "context"

// Publisher publishes delivery messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DeliveryMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DeliveryMessage) error

// Consumer consumes delivery messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// SendQueueName is the work queue read by the delivery worker.
const SendQueueName = "gcm.send"

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.gcm.send.
func DLQName(queue string) string {
	return "dlq." + queue
}
