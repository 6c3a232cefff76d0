package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hexforge/reliefd/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

// Event is one job-scoped notification: a status/progress change or a log
// line from a pipeline step.
type Event struct {
	JobID     string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

// EventBus fans job events out to SSE subscribers. Polling the store remains
// the source of truth; the bus is a convenience for live UIs.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // keyed by job id
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one job, plus an
// unsubscribe func the caller must invoke when done.
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffered so a slow reader can't block the runner
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the job. Full channels drop
// the event rather than blocking the pipeline.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers, ok := b.subs[e.JobID]
	if !ok {
		return
	}

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID)
		}
	}
}

// PublishStatus emits a status event, optionally with a progress value.
func (b *EventBus) PublishStatus(jobID domain.JobID, status domain.JobStatus, progress *int) {
	payload := map[string]any{"status": status}
	if progress != nil {
		payload["progress"] = *progress
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"status":"` + string(status) + `"}`)
	}

	b.Publish(Event{
		JobID:     string(jobID),
		Type:      EventTypeStatus,
		Data:      string(data),
		Timestamp: time.Now().Unix(),
	})
}

// PublishLog emits a free-text log line for the job.
func (b *EventBus) PublishLog(jobID domain.JobID, line string) {
	b.Publish(Event{
		JobID:     string(jobID),
		Type:      EventTypeLog,
		Data:      line,
		Timestamp: time.Now().Unix(),
	})
}
