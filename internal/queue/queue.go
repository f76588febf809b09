package queue

import (
	"context"
	"fmt"
)

// Queue names. Label jobs flow out to the external processing worker; error
// reports flow in from the provider integration.
const (
	LabelJobsQueue    = "batch.labels"
	ErrorReportsQueue = "batch.errors"
)

// Message is a broker payload that can vouch for its own shape.
type Message interface {
	Validate() error
	Correlation() string
}

// Publisher publishes batch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// ErrorReportHandler handles a consumed provider error report.
type ErrorReportHandler func(ctx context.Context, msg ErrorReportMessage) error

// Consumer consumes provider error reports from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler ErrorReportHandler) error
	Close() error
}

var workQueues = []string{LabelJobsQueue, ErrorReportsQueue}

// DLQName returns the dead-letter queue name, e.g. dlq.batch.errors.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all declared work queues.
func WorkQueueNames() []string {
	queues := make([]string, len(workQueues))
	copy(queues, workQueues)
	return queues
}
