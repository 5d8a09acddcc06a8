package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"auctionwatch/models"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 32
)

// Conn wraps one websocket connection. Messages are queued on a buffered
// channel and drained by a single writer goroutine; enqueue never blocks.
type Conn struct {
	hub     *Hub
	ws      *websocket.Conn
	ownerID int64
	send    chan []byte

	mu     sync.Mutex
	closed bool
}

// NewConn registers a freshly upgraded websocket with the hub and starts
// its pumps. The caller hands over ownership of ws.
func NewConn(h *Hub, ws *websocket.Conn, ownerID int64) *Conn {
	c := &Conn{
		hub:     h,
		ws:      ws,
		ownerID: ownerID,
		send:    make(chan []byte, sendQueueSize),
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
	return c
}

type clientMessage struct {
	Type       string `json:"type"`
	PropertyID string `json:"propertyId"`
}

type serverMessage struct {
	Type       string `json:"type"`
	PropertyID string `json:"propertyId,omitempty"`
	Status     string `json:"status,omitempty"`
}

// auctionState is one entry of the initial_state message sent on connect.
type auctionState struct {
	PropertyID        string   `json:"propertyId"`
	Street            string   `json:"street"`
	City              string   `json:"city"`
	State             string   `json:"state"`
	ZipCode           string   `json:"zipCode"`
	ForeclosureStatus string   `json:"foreclosureStatus"`
	AuctionDate       string   `json:"auctionDate,omitempty"`
	AuctionTime       string   `json:"auctionTime,omitempty"`
	OpeningBid        *float64 `json:"openingBid,omitempty"`
}

// SendInitialState pushes the owner's watchlist as it stands right now, and
// subscribes the connection to each of those listings.
func (c *Conn) SendInitialState(listings []models.Listing) {
	auctions := make([]auctionState, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		s := auctionState{
			PropertyID:        l.ID,
			Street:            l.Street,
			City:              l.City,
			State:             l.State,
			ZipCode:           l.ZipCode,
			ForeclosureStatus: string(l.Status),
			AuctionTime:       l.AuctionTime,
			OpeningBid:        l.OpeningBid,
		}
		if l.AuctionDate != nil {
			s.AuctionDate = l.AuctionDate.Format("2006-01-02")
		}
		auctions = append(auctions, s)
		c.hub.subscribe(c, l.ID)
	}

	msg, err := json.Marshal(struct {
		Type     string         `json:"type"`
		Auctions []auctionState `json:"auctions"`
	}{Type: "initial_state", Auctions: auctions})
	if err != nil {
		log.Printf("Hub: marshal initial state for owner %d: %v", c.ownerID, err)
		return
	}
	c.enqueue(msg)
}

// enqueue queues a message for the writer. Drops when the queue is full or
// the connection already closed.
func (c *Conn) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("Hub: send queue full for owner %d, dropping message", c.ownerID)
	}
}

// Close tears the connection down once; safe to call from any goroutine.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.unregister(c)
	c.ws.Close()
}

func (c *Conn) readPump() {
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		// Any well-formed client message counts as a heartbeat.
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.hub.touch(c)

		switch msg.Type {
		case "subscribe":
			if msg.PropertyID == "" {
				continue
			}
			c.hub.subscribe(c, msg.PropertyID)
			c.reply(serverMessage{Type: "subscribe_response", PropertyID: msg.PropertyID, Status: "subscribed"})
		case "unsubscribe":
			if msg.PropertyID == "" {
				continue
			}
			c.hub.unsubscribe(c, msg.PropertyID)
			c.reply(serverMessage{Type: "unsubscribe_response", PropertyID: msg.PropertyID, Status: "unsubscribed"})
		case "ping":
			c.reply(serverMessage{Type: "pong"})
		}
	}
}

func (c *Conn) reply(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Conn) writePump() {
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.Close()
			// Drain remaining queued messages so enqueue callers that raced
			// the close do not leak.
			for range c.send {
			}
			return
		}
	}
}
