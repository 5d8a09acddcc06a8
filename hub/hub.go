package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"auctionwatch/models"
)

// Hub tracks live connections and their per-listing subscriptions, and
// fans change events out to subscribers. Publishing is fire and forget: a
// slow or dead connection never blocks the pipeline.
type Hub struct {
	mu            sync.Mutex
	subscriptions map[string]map[*Conn]struct{}
	conns         map[*Conn]time.Time // last heartbeat
	heartbeat     time.Duration
}

func New(heartbeatTimeout time.Duration) *Hub {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	return &Hub{
		subscriptions: make(map[string]map[*Conn]struct{}),
		conns:         make(map[*Conn]time.Time),
		heartbeat:     heartbeatTimeout,
	}
}

// Run evicts connections that stopped sending heartbeats. Blocks until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case now := <-ticker.C:
			h.evictStale(now)
		}
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = time.Now()
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	for id, subs := range h.subscriptions {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) subscribe(c *Conn, listingID string) {
	h.mu.Lock()
	subs, ok := h.subscriptions[listingID]
	if !ok {
		subs = make(map[*Conn]struct{})
		h.subscriptions[listingID] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(c *Conn, listingID string) {
	h.mu.Lock()
	if subs, ok := h.subscriptions[listingID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, listingID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) touch(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		h.conns[c] = time.Now()
	}
	h.mu.Unlock()
}

func (h *Hub) evictStale(now time.Time) {
	var stale []*Conn
	h.mu.Lock()
	for c, last := range h.conns {
		if now.Sub(last) > h.heartbeat {
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		log.Printf("Hub: evicting stale connection for owner %d", c.ownerID)
		c.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Publish sends an auction_update to every subscriber of the event's
// listing. Undeliverable messages are dropped.
func (h *Hub) Publish(event *models.ChangeEvent) {
	msg, err := json.Marshal(updateMessage{
		Type:       "auction_update",
		PropertyID: event.ListingID,
		Update:     event.UpdatePayload(),
		Timestamp:  event.DetectedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Hub: marshal update for %s: %v", event.ListingID, err)
		return
	}

	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.subscriptions[event.ListingID]))
	for c := range h.subscriptions[event.ListingID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// ConnCount reports live connections, for the health endpoint.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

type updateMessage struct {
	Type       string        `json:"type"`
	PropertyID string        `json:"propertyId"`
	Update     models.Update `json:"update"`
	Timestamp  string        `json:"timestamp"`
}
