package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification is a message shown in a user's inbox.
type Notification struct {
	UserID  int64
	Title   string
	Message string
	Kind    string
	URL     string
}

// NotificationStore persists notifications and resolves their recipients.
type NotificationStore interface {
	Insert(ctx context.Context, n Notification) error
	// Recipients returns the active users holding any of roles.
	Recipients(ctx context.Context, roles []string) ([]int64, error)
}

// Cleaner purges expired idempotency keys.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JobRecorder counts processed tasks.
type JobRecorder interface {
	RecordJob(task string, err error)
}

// Handlers processes the notification and maintenance tasks.
type Handlers struct {
	Store   NotificationStore
	Cleaner Cleaner
	Logger  *slog.Logger
	Metrics JobRecorder
	// StockRoles are the roles told about low stock.
	StockRoles []string
}

// Register wires every task handler into a worker configuration.
func (h Handlers) Register() []TaskHandler {
	return []TaskHandler{
		{Type: TaskOrderDecided, Handler: h.track(TaskOrderDecided, h.HandleOrderDecided)},
		{Type: TaskLowStock, Handler: h.track(TaskLowStock, h.HandleLowStock)},
		{Type: TaskIdempotencyCleanup, Handler: h.track(TaskIdempotencyCleanup, h.HandleIdempotencyCleanup)},
	}
}

func (h Handlers) track(task string, fn asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		err := fn(ctx, t)
		if h.Metrics != nil {
			h.Metrics.RecordJob(task, err)
		}
		if err != nil && h.Logger != nil {
			h.Logger.Warn("job failed", slog.String("task", task), slog.Any("error", err))
		}
		return err
	}
}

// HandleOrderDecided tells the requester about the decision on their order.
func (h Handlers) HandleOrderDecided(ctx context.Context, t *asynq.Task) error {
	var payload OrderDecidedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.OrderID == 0 || payload.RequesterID == 0 {
		return fmt.Errorf("order decided payload: %w", asynq.SkipRetry)
	}
	n := Notification{
		UserID:  payload.RequesterID,
		Title:   "Pedido rechazado",
		Message: fmt.Sprintf("Tu pedido #%d fue rechazado.", payload.OrderID),
		Kind:    "warning",
		URL:     fmt.Sprintf("/orders/%d", payload.OrderID),
	}
	if payload.Status == "aprobado" {
		n.Title = "Pedido aprobado"
		n.Message = fmt.Sprintf("Tu pedido #%d fue aprobado.", payload.OrderID)
		n.Kind = "success"
	}
	return h.Store.Insert(ctx, n)
}

// HandleLowStock tells every inventory manager about a part at its minimum.
func (h Handlers) HandleLowStock(ctx context.Context, t *asynq.Task) error {
	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PartID == 0 {
		return fmt.Errorf("low stock payload: %w", asynq.SkipRetry)
	}
	recipients, err := h.Store.Recipients(ctx, h.StockRoles)
	if err != nil {
		return err
	}
	for _, id := range recipients {
		err := h.Store.Insert(ctx, Notification{
			UserID:  id,
			Title:   "Stock bajo",
			Message: fmt.Sprintf("%s (%s): quedan %d unidades, mínimo %d.", payload.Name, payload.Code, payload.Stock, payload.MinStock),
			Kind:    "danger",
			URL:     fmt.Sprintf("/inventory/%d", payload.PartID),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleIdempotencyCleanup deletes submission keys past their retention.
func (h Handlers) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("cleanup payload: %w", asynq.SkipRetry)
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 7 * 24 * time.Hour
	}
	removed, err := h.Cleaner.Cleanup(ctx, payload.OlderThan)
	if err != nil {
		return err
	}
	if h.Logger != nil {
		h.Logger.Info("idempotency keys purged", slog.Int64("removed", removed))
	}
	return nil
}

// PGStore stores notifications in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert writes an unread notification.
func (s *PGStore) Insert(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO notifications (user_id, title, message, kind, url) VALUES ($1, $2, $3, $4, $5)`,
		n.UserID, n.Title, n.Message, n.Kind, n.URL)
	return err
}

// Recipients returns the active users holding any of roles.
func (s *PGStore) Recipients(ctx context.Context, roles []string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE is_active AND role = ANY($1) ORDER BY id`, roles)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
