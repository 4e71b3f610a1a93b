package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/observability"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
)

// EventsHandler streams run updates as server-sent events.
type EventsHandler struct {
	svc               EncodeService
	heartbeatInterval time.Duration
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(svc EncodeService) *EventsHandler {
	return &EventsHandler{
		svc:               svc,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoints on a chi router. Huma does not
// stream, so these bypass it.
func (h *EventsHandler) RegisterSSE(router chi.Router) {
	router.Get("/api/v1/events", h.handleAll)
	router.Get("/api/v1/jobs/{id}/events", h.handleJob)
}

// handleAll streams the updates of every run until the client leaves.
func (h *EventsHandler) handleAll(w http.ResponseWriter, r *http.Request) {
	sub := h.svc.Subscribe(models.ULID{})
	defer h.svc.Unsubscribe(sub.ID)
	h.stream(w, r, sub, nil)
}

// handleJob streams one run. The current state is sent first as a
// "snapshot" event; the stream ends after the run's terminal update, or
// right after the snapshot when the run has already finished.
func (h *EventsHandler) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}

	// subscribe before reading the snapshot so no update falls in between
	sub := h.svc.Subscribe(id)
	defer h.svc.Unsubscribe(sub.ID)

	run, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, encode.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.stream(w, r, sub, run)
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, sub *encode.Subscriber, snapshot *models.EncodeRun) {
	logger := observability.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)

	fmt.Fprint(w, ":connected\n\n")
	if snapshot != nil {
		if err := writeEvent(w, "snapshot", "", RunFromModel(snapshot)); err != nil {
			logger.Debug("failed to write snapshot", slog.String("error", err.Error()))
			return
		}
	}
	if err := rc.Flush(); err != nil {
		logger.Debug("failed to flush SSE connection", slog.String("error", err.Error()))
		return
	}
	if snapshot != nil && snapshot.Status.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				logger.Debug("heartbeat flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		case u, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, string(u.Type), fmt.Sprintf("%s-%d", u.RunID, u.Seq), u); err != nil {
				logger.Debug("failed to write SSE event", slog.String("error", err.Error()))
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Debug("event flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
			if snapshot != nil && u.Terminal() {
				return
			}
		}
	}
}

// writeEvent writes one SSE message in a single write.
func writeEvent(w http.ResponseWriter, event, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	msg := "event: " + event + "\n"
	if id != "" {
		msg += "id: " + id + "\n"
	}
	msg += "data: " + string(data) + "\n\n"

	n, err := w.Write([]byte(msg))
	if err != nil {
		return err
	}
	if n < len(msg) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(msg))
	}
	return nil
}
