package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/buildvault/escrow-engine/ledger"
)

func TestBroadcaster_FansOutPerProject(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	chA := b.subscribe("proj-a")
	chB := b.subscribe("proj-b")
	defer b.unsubscribe("proj-a", chA)
	defer b.unsubscribe("proj-b", chB)

	b.publish(ledger.Entry{ID: "e1", ProjectID: "proj-a", Direction: ledger.DirDeposit})

	select {
	case e := <-chA:
		assert.Equal(t, ledger.EntryID("e1"), e.ID)
	default:
		t.Fatal("subscriber for proj-a saw nothing")
	}
	select {
	case e := <-chB:
		t.Fatalf("proj-b subscriber saw foreign entry %s", e.ID)
	default:
	}
}

func TestBroadcaster_SlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	ch := b.subscribe("proj-a")
	defer b.unsubscribe("proj-a", ch)

	// Overfill the buffer; publish must never block money movement.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.publish(ledger.Entry{ID: "e", ProjectID: "proj-a"})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	ch := b.subscribe("proj-a")
	b.unsubscribe("proj-a", ch)
	b.publish(ledger.Entry{ID: "e1", ProjectID: "proj-a"})
	require.Empty(t, ch)
}

func TestStreamEvents_OutlivesServerWriteTimeout(t *testing.T) {
	events := NewBroadcaster(zap.NewNop())
	h := &Handler{Events: events, log: zap.NewNop()}

	r := chi.NewRouter()
	r.Get("/api/projects/{id}/events", h.StreamEvents)

	// A server-wide write deadline much shorter than the stream's life.
	srv := httptest.NewUnstartedServer(r)
	srv.Config.WriteTimeout = 250 * time.Millisecond
	srv.Start()
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/api/projects/proj-a/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Let the deadline pass, then publish; the stream must still deliver.
	time.Sleep(400 * time.Millisecond)
	events.publish(ledger.Entry{ID: "e1", ProjectID: "proj-a", Direction: ledger.DirDeposit})

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data, "stream was severed before the event arrived")
	assert.Contains(t, data, `"e1"`)
}
