package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
)

// QueueInspector is the part of *asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves /jobs endpoints.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler builds the handler; a nil inspector reports an empty queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Paused    bool   `json:"paused"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processedToday"`
	Failed    int    `json:"failedToday"`
	LatencyMS int64  `json:"latencyMs"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	body := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, body)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("inspect job queue", slog.String("queue", QueueDefault), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue unreachable")
		return
	}
	if info != nil {
		body = queueHealth{
			Queue:     info.Queue,
			Paused:    info.Paused,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			LatencyMS: info.Latency.Milliseconds(),
		}
	}
	httpx.JSON(w, http.StatusOK, body)
}
