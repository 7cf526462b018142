package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

const defaultKeepAlive = 15 * time.Second

// EventHandlers streams job progress over Server-Sent Events.
type EventHandlers struct {
	Tasks *service.TaskService

	// KeepAlive is the interval between comment frames so idle streams
	// survive proxies. Defaults to 15s.
	KeepAlive time.Duration

	Logger *slog.Logger
}

// StreamProgress serves GET /api/jobs/{id}/events as an SSE stream. The
// first frame is the job's current snapshot so late subscribers never miss
// state; subsequent frames follow the live progress feed. The stream closes
// itself after a terminal status frame.
func (h *EventHandlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "streaming_unsupported", Err: errors.New("response writer does not support streaming")})
		return
	}

	snap, err := h.Tasks.GetStatus(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	// Subscribe before writing the snapshot so no event can fall in the gap.
	events, unsub := h.Tasks.SubscribeProgress(jobID)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, string(model.EventStatus), snapshotEvent(snap)); err != nil {
		return
	}
	flusher.Flush()

	if snap.Status.Terminal() {
		return
	}

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event, open := <-events:
			if !open {
				// Dropped as a slow consumer or broadcaster shutdown; the
				// client reconnects and resumes from a fresh snapshot.
				return
			}
			if err := writeEvent(w, string(event.Type), event); err != nil {
				return
			}
			flusher.Flush()

			if event.Type == model.EventStatus && event.Status.Terminal() {
				return
			}
		}
	}
}

// snapshotEvent shapes the initial snapshot like a live event so clients
// parse a single frame format.
func snapshotEvent(snap *model.JobStatusSnapshot) *model.ProgressEvent {
	return &model.ProgressEvent{
		Type:            model.EventStatus,
		JobID:           snap.ID,
		Kind:            snap.Kind,
		Status:          snap.Status,
		Progress:        snap.Progress,
		ProgressMessage: snap.ProgressMessage,
		TotalItems:      snap.TotalItems,
		ProcessedItems:  snap.ProcessedItems,
		SuccessfulItems: snap.SuccessfulItems,
		FailedItems:     snap.FailedItems,
		SkippedItems:    snap.SkippedItems,
		Result:          snap.Result,
		Error:           snap.Error,
		At:              time.Now().UTC(),
	}
}

func writeEvent(w http.ResponseWriter, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
