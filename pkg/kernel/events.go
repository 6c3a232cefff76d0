package kernel

import (
	"fmt"
	"net/http"

	"github.com/hexforge/reliefd/internal/core/domain"
)

// handleJobEvents streams status and log events for one job over SSE.
// Polling GET /v1/heightmap/jobs/{id} stays the source of truth; this stream
// only saves the client from tight polling loops.
// GET /v1/heightmap/jobs/{id}/events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	job, err := s.store.Read(r.Context(), id)
	if err != nil || job == nil {
		s.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("no such job: %s", id))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", id)
	flusher.Flush()

	ch, unsub := s.eventBus.Subscribe(string(id))
	defer unsub()

	// Re-read after subscribing: a job that went terminal before the
	// subscription existed will never speak on the bus again, and the
	// client would hang until disconnect.
	if job, err := s.store.Read(r.Context(), id); err == nil && job != nil && job.Status.Terminal() {
		fmt.Fprintf(w, "event: status\ndata: {\"status\":%q,\"progress\":%d}\n\n", job.Status, job.Progress)
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
