/*
events.go - Live ledger entry stream

PURPOSE:
  Pushes committed ledger entries to subscribed clients over Server-Sent
  Events. The Broadcaster plugs into the ledger as an observer; every entry
  that survives a commit fans out to the project's subscribers.

DELIVERY SEMANTICS:
  Best effort. A slow subscriber's buffer fills and further events for it
  are dropped; the ledger itself is the source of truth and clients re-sync
  with GET /api/projects/{id}/entries. The observer runs after the commit,
  outside the project lock, so a stuck client can never stall money movement.

SEE ALSO:
  - ledger/ledger.go: WithObserver option
  - handlers.go: route wiring
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/buildvault/escrow-engine/ledger"
)

const subscriberBuffer = 16

// Broadcaster fans committed ledger entries out to per-project subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[ledger.ProjectID]map[chan ledger.Entry]struct{}
	log  *zap.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[ledger.ProjectID]map[chan ledger.Entry]struct{}),
		log:  log,
	}
}

// Observer returns the callback to pass to ledger.WithObserver.
func (b *Broadcaster) Observer() func(ledger.Entry) {
	return b.publish
}

func (b *Broadcaster) publish(e ledger.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[e.ProjectID] {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; it re-syncs from the ledger.
			b.log.Debug("dropping entry event for slow subscriber",
				zap.String("project_id", string(e.ProjectID)),
				zap.String("entry_id", string(e.ID)))
		}
	}
}

func (b *Broadcaster) subscribe(projectID ledger.ProjectID) chan ledger.Entry {
	ch := make(chan ledger.Entry, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[projectID] == nil {
		b.subs[projectID] = make(map[chan ledger.Entry]struct{})
	}
	b.subs[projectID][ch] = struct{}{}
	return ch
}

func (b *Broadcaster) unsubscribe(projectID ledger.ProjectID, ch chan ledger.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[projectID], ch)
	if len(b.subs[projectID]) == 0 {
		delete(b.subs, projectID)
	}
}

// StreamEvents serves the project's entry stream as Server-Sent Events.
// GET /api/projects/{id}/events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	projectID := ledger.ProjectID(chi.URLParam(r, "id"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	// The server-wide write deadline would sever this long-lived response;
	// clear it for the stream. Not every ResponseWriter supports deadlines
	// (httptest recorders), so a failure here is fine.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.Events.subscribe(projectID)
	defer h.Events.unsubscribe(projectID, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			payload, err := json.Marshal(toEntryDTO(e))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: entry\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
