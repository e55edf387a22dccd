package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/domain"
)

const (
	pingInterval = 15 * time.Second

	// sseBufferSize bounds how far a slow consumer may lag before its
	// stream is closed
	sseBufferSize = 256
)

// streamEvents serves GET /api/runs/{id}/events as an SSE stream: full
// replay first, then live events until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.runs.Get(runID) == nil && !s.events.Has(runID) {
		writeError(w, http.StatusNotFound, "unknown run: "+runID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	feed := newLiveFeed(sseBufferSize)
	replay, cancel := s.events.Subscribe(runID, feed.push)
	defer cancel()

	for _, e := range replay {
		writeSSE(w, e)
	}
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-feed.overflow:
			// Consumer too slow; ending the stream forces a reconnect
			// with a fresh replay instead of a silent gap
			return
		case e := <-feed.ch:
			writeSSE(w, e)
			flusher.Flush()
		case <-ticker.C:
			ping := map[string]interface{}{
				"type":  domain.EventPing,
				"runId": runID,
				"at":    time.Now().UnixMilli(),
			}
			data, _ := json.Marshal(ping)
			fmt.Fprintf(w, "event: %s\n", domain.EventPing)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// liveFeed buffers live events for one stream. When the buffer is full
// the feed latches overflow instead of blocking the publisher; events
// already buffered stay deliverable, nothing after the drop is.
type liveFeed struct {
	ch       chan domain.Event
	overflow chan struct{}
	once     sync.Once
}

func newLiveFeed(size int) *liveFeed {
	return &liveFeed{
		ch:       make(chan domain.Event, size),
		overflow: make(chan struct{}),
	}
}

func (f *liveFeed) push(e domain.Event) {
	select {
	case f.ch <- e:
	default:
		f.once.Do(func() { close(f.overflow) })
	}
}

func writeSSE(w http.ResponseWriter, e domain.Event) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "event: %s\n", e.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
