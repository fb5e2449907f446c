package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueCritical carries user-facing notifications.
	QueueCritical = "critical"
	// QueueDefault carries maintenance work.
	QueueDefault = "default"
	// TaskOrderDecided notifies a technician that a parts order was decided.
	TaskOrderDecided = "notifications:order_decided"
	// TaskLowStock notifies inventory managers that a part reached its minimum.
	TaskLowStock = "notifications:low_stock"
	// TaskIdempotencyCleanup purges old submission keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// OrderDecidedPayload identifies the decided order and its requester.
type OrderDecidedPayload struct {
	OrderID     int64  `json:"order_id"`
	RequesterID int64  `json:"requester_id"`
	Status      string `json:"status"`
}

// LowStockPayload describes the part that ran low.
type LowStockPayload struct {
	PartID   int64  `json:"part_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Stock    int    `json:"stock"`
	MinStock int    `json:"min_stock"`
}

// CleanupPayload carries the retention applied by the cleanup task.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewOrderDecidedTask constructs an Asynq task for an order decision.
func NewOrderDecidedTask(payload OrderDecidedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderDecided, data, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// NewLowStockTask constructs an Asynq task for a low-stock alert.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStock, data, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
