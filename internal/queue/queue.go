package queue

import "context"

const (
	// NotifyQueue is the single durable work queue for notification jobs.
	NotifyQueue = "notify"
	// NotifyDLQ receives rejected poison messages.
	NotifyDLQ = "dlq.notify"
)

// Publisher publishes job messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job messages from a queue. Delivery is at-least-once:
// nacked messages are requeued, so handlers must tolerate duplicates.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
