package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ecoloimp/ecoloimp/internal/inventory"
)

// Enqueuer submits tasks; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client is the web process side of the queue. It satisfies the order and
// inventory notifier interfaces.
type Client struct {
	client Enqueuer
	logger *slog.Logger
}

// NewClient dials Redis through an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, logger *slog.Logger) *Client {
	return NewClientWith(asynq.NewClient(redisOpts), logger)
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: enqueuer, logger: logger}
}

// NotifyOrderDecided enqueues the requester notification for an order.
func (c *Client) NotifyOrderDecided(ctx context.Context, orderID, requesterID int64, status string) error {
	task, err := NewOrderDecidedTask(OrderDecidedPayload{OrderID: orderID, RequesterID: requesterID, Status: status})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// NotifyLowStock enqueues a low-stock alert for part.
func (c *Client) NotifyLowStock(ctx context.Context, part inventory.Part) error {
	task, err := NewLowStockTask(LowStockPayload{PartID: part.ID, Code: part.Code, Name: part.Name, Stock: part.Stock, MinStock: part.MinStock})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("enqueue task", slog.String("task", task.Type()), slog.Any("error", err))
		return err
	}
	c.logger.Debug("task enqueued", slog.String("task", task.Type()), slog.String("queue", info.Queue), slog.String("id", info.ID))
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
