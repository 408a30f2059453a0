package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/compostwatch/compostwatch/server/internal/alerts"
	"github.com/compostwatch/compostwatch/server/internal/api"
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventPile     = "pile"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are restricted at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is one frame sent to a subscriber. Pile subscribers get a snapshot
// narrowed to their pile and its alerts.
type Message struct {
	Event string               `json:"event"`
	Data  api.SnapshotResponse `json:"data"`
}

// Snapshotter builds the dashboard state streamed to subscribers.
type Snapshotter interface {
	Snapshot() api.SnapshotResponse
}

// Hub tracks subscribers and pushes them the dashboard state every interval.
// A subscriber connecting with ?pile=<id> follows that pile only.
type Hub struct {
	source   Snapshotter
	interval time.Duration

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New creates a Hub streaming source's snapshot every interval.
func New(source Snapshotter, interval time.Duration) *Hub {
	return &Hub{
		source:   source,
		interval: interval,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run pushes a frame to every subscriber on each tick. When ctx ends every
// subscriber is disconnected.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-t.C:
			h.push()
		}
	}
}

// ServeHTTP upgrades the request, queues the current state for the new
// subscriber and serves it until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := newSubscriber(conn, r.URL.Query().Get("pile"))
	h.add(s)
	defer h.remove(s)
	slog.Debug("ws: subscriber connected", "remote", r.RemoteAddr, "pile", s.pile)

	if frame, err := encode(h.source.Snapshot(), s.pile); err == nil {
		s.offer(frame)
	}

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Following returns how many subscribers follow pileID. An empty id counts
// the subscribers of the full snapshot.
func (h *Hub) Following(pileID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.subs {
		if s.pile == pileID {
			n++
		}
	}
	return n
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.queue)
	}
	h.mu.Unlock()
}

// push takes one snapshot and encodes it once per distinct pile filter.
func (h *Hub) push() {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	snap := h.source.Snapshot()
	frames := make(map[string][]byte)
	for _, s := range subs {
		frame, ok := frames[s.pile]
		if !ok {
			var err error
			if frame, err = encode(snap, s.pile); err != nil {
				slog.Error("ws: encode frame", "pile", s.pile, "err", err)
				continue
			}
			frames[s.pile] = frame
		}
		if !s.offer(frame) {
			slog.Debug("ws: subscriber queue full, disconnecting", "pile", s.pile)
			h.remove(s)
		}
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		close(s.queue)
		delete(h.subs, s)
	}
}

// encode renders snap for a subscriber following pileID, or the whole
// snapshot when pileID is empty.
func encode(snap api.SnapshotResponse, pileID string) ([]byte, error) {
	if pileID == "" {
		return json.Marshal(Message{Event: EventSnapshot, Data: snap})
	}
	narrowed := api.SnapshotResponse{
		Piles:       []api.PileResponse{},
		Alerts:      []*alerts.Alert{},
		GeneratedAt: snap.GeneratedAt,
	}
	for _, p := range snap.Piles {
		if p.PileID == pileID {
			narrowed.Piles = append(narrowed.Piles, p)
		}
	}
	for _, a := range snap.Alerts {
		if a.PileID == pileID {
			narrowed.Alerts = append(narrowed.Alerts, a)
		}
	}
	return json.Marshal(Message{Event: EventPile, Data: narrowed})
}
