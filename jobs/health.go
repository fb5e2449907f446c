package jobs

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
)

// QueueInspector reads queue statistics; *asynq.Inspector satisfies it.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves queue health for operators.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs the jobs handler. A nil inspector reports empty
// queues.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
	Processed int    `json:"processed_today"`
	Paused    bool   `json:"paused"`
}

type healthResponse struct {
	Healthy bool          `json:"healthy"`
	Queues  []queueHealth `json:"queues"`
}

func queueNames() []string {
	names := make([]string, 0, len(queueWeights))
	for name := range queueWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// health answers 503 when Redis cannot be read. A queue that was never
// written to does not exist yet and is reported empty.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	existing := map[string]bool{}
	if h.inspector != nil {
		names, err := h.inspector.Queues()
		if err != nil {
			h.unavailable(w, "", err)
			return
		}
		for _, name := range names {
			existing[name] = true
		}
	}
	resp := healthResponse{Healthy: true}
	for _, name := range queueNames() {
		q := queueHealth{Queue: name}
		if existing[name] {
			info, err := h.inspector.GetQueueInfo(name)
			if err != nil {
				h.unavailable(w, name, err)
				return
			}
			q = queueHealth{
				Queue:     info.Queue,
				Pending:   info.Pending,
				Active:    info.Active,
				Retry:     info.Retry,
				Failed:    info.Archived,
				Processed: info.Processed,
				Paused:    info.Paused,
			}
		}
		if q.Paused {
			resp.Healthy = false
		}
		resp.Queues = append(resp.Queues, q)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) unavailable(w http.ResponseWriter, queue string, err error) {
	h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
	httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue statistics unavailable")
}
