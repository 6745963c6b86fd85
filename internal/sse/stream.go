package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/knograph/knograph-backend/internal/platform/logger"
)

type EventType string

const (
	EventPhase    EventType = "phase"
	EventActivity EventType = "agent_activity"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one frame on a run's stream. The producer (the run) writes them to
// a channel; Stream drains the channel onto the wire.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

func Phase(phase string) Event {
	return Event{Type: EventPhase, Data: map[string]any{"phase": phase}}
}

func Activity(text string) Event {
	return Event{Type: EventActivity, Data: map[string]any{"agent_activity": text}}
}

func Complete(requiresReview bool, reviewID string) Event {
	data := map[string]any{"requires_review": requiresReview}
	if reviewID != "" {
		data["review_id"] = reviewID
	}
	return Event{Type: EventComplete, Data: data}
}

func Error(message string) Event {
	return Event{Type: EventError, Data: map[string]any{"message": message}}
}

// Stream writes events as server-sent events until the channel closes or the
// caller disconnects. One connection serves exactly one run; the request
// context doubles as the run's cancellation signal.
func Stream(w http.ResponseWriter, r *http.Request, events <-chan Event, log *logger.Logger) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE caller detached", "err", ctx.Err())
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			jsonBytes, err := json.Marshal(ev.Data)
			if err != nil {
				log.Warn("Failed to marshal SSE event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", string(jsonBytes))
			flusher.Flush()
		}
	}
}
