package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/sitepro/sitepro-erp/internal/procurement"
)

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client submits jobs to the queue.
type Client struct {
	enqueuer Enqueuer
	closer   func() error
}

// NewClient constructs an Asynq backed client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	client := asynq.NewClient(redisOpts)
	return &Client{enqueuer: client, closer: client.Close}
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer) *Client {
	return &Client{enqueuer: enqueuer}
}

// NotifyPOPlaced implements procurement.Notifier by enqueueing TaskPOPlaced.
func (c *Client) NotifyPOPlaced(ctx context.Context, event procurement.POPlacedEvent) error {
	task, err := NewPOPlacedTask(event)
	if err != nil {
		return fmt.Errorf("jobs: build %s: %w", TaskPOPlaced, err)
	}
	if _, err := c.enqueuer.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", TaskPOPlaced, err)
	}
	return nil
}

// EnqueueConsumptionSnapshot triggers an out-of-schedule snapshot run.
func (c *Client) EnqueueConsumptionSnapshot(ctx context.Context) (*asynq.TaskInfo, error) {
	task, err := NewConsumptionSnapshotTask()
	if err != nil {
		return nil, err
	}
	return c.enqueuer.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// Close releases client resources.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}
