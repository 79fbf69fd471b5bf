package wshub

import (
	"context"
	"encoding/json"
	"kibaeon/internal/events"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const sendBuffer = 32

// ClientMessage is the JSON structure received from clients.
type ClientMessage struct {
	Type string `json:"t"`
}

// ServerMessage is the JSON structure sent to clients.
type ServerMessage struct {
	Type   string        `json:"t"`
	UserID string        `json:"id,omitempty"`
	RoomID string        `json:"room,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
	// State carries a full room snapshot, sent when a socket connects.
	State json.RawMessage `json:"state,omitempty"`
}

// Client represents a single WebSocket connection in the hub. One user may
// hold several.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, Conn: conn, Send: make(chan []byte, sendBuffer)}
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

type Options struct {
	// Grace is how long a user may have no open socket before OnDepart runs.
	Grace time.Duration
	// OnDepart is called once a user's grace period expires without a
	// reconnect. roomID is the room the user was routed to when their last
	// socket closed, or empty. It runs on its own goroutine.
	OnDepart func(userID, roomID string)
	Logger   *zap.Logger
}

type departure struct {
	timer  *time.Timer
	roomID string
}

// Hub tracks live sockets per user, routes room events to the members of
// that room, and reports users who stay disconnected past the grace period.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]string
	pending  map[string]*departure
	grace    time.Duration
	onDepart func(userID, roomID string)
	log      *zap.Logger
}

func NewHub(opts Options) *Hub {
	h := &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		rooms:    make(map[string]string),
		pending:  make(map[string]*departure),
		grace:    opts.Grace,
		onDepart: opts.OnDepart,
		log:      opts.Logger,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// Register adds a client and cancels any pending departure for the user.
// seat reports the room the user occupies, or empty, and may queue messages on
// c.Send. It runs under the hub lock, so no event is dispatched between the
// lookup and the routing update. A nil seat keeps the user's current routing.
func (h *Hub) Register(c *Client, seat func() string) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	returning := h.cancelDeparture(c.UserID)
	roomID := h.rooms[c.UserID]
	if seat != nil {
		roomID = seat()
		if roomID != "" {
			h.rooms[c.UserID] = roomID
		} else {
			delete(h.rooms, c.UserID)
		}
	}
	h.mu.Unlock()

	if returning {
		h.log.Debug("user reconnected", zap.String("user_id", c.UserID))
	}
	if !ok && roomID != "" {
		h.BroadcastRoom(roomID, c.UserID, ServerMessage{Type: "online", UserID: c.UserID, RoomID: roomID})
	}
}

// Unregister removes a client and closes its Send channel. When it was the
// user's last socket, room mates are told and the departure timer starts.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, live := set[c]; !live {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	close(c.Send)
	last := len(set) == 0
	roomID := h.rooms[c.UserID]
	if last {
		delete(h.clients, c.UserID)
		h.scheduleDeparture(c.UserID, roomID)
	}
	h.mu.Unlock()

	if last && roomID != "" {
		h.BroadcastRoom(roomID, c.UserID, ServerMessage{Type: "away", UserID: c.UserID, RoomID: roomID})
	}
}

// scheduleDeparture starts the grace timer. The caller holds h.mu.
func (h *Hub) scheduleDeparture(userID, roomID string) {
	if h.onDepart == nil {
		return
	}
	h.cancelDeparture(userID)
	d := &departure{roomID: roomID}
	h.pending[userID] = d
	d.timer = time.AfterFunc(h.grace, func() { h.depart(userID, d) })
}

func (h *Hub) depart(userID string, d *departure) {
	h.mu.Lock()
	if h.pending[userID] != d {
		h.mu.Unlock()
		return
	}
	delete(h.pending, userID)
	_, online := h.clients[userID]
	h.mu.Unlock()
	if online {
		return
	}
	h.log.Info("user departed after grace period",
		zap.String("user_id", userID),
		zap.String("room_id", d.roomID),
		zap.Duration("grace", h.grace),
	)
	h.onDepart(userID, d.roomID)
}

// cancelDeparture stops a pending departure. The caller holds h.mu.
func (h *Hub) cancelDeparture(userID string) bool {
	d, ok := h.pending[userID]
	if ok {
		d.timer.Stop()
		delete(h.pending, userID)
	}
	return ok
}

// Connected reports whether the user has at least one open socket.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Dispatch delivers a room event to every connected member of the room and to
// the user the event is about, then updates room routing.
func (h *Hub) Dispatch(ev events.Event) {
	data, err := json.Marshal(ServerMessage{Type: "event", RoomID: ev.RoomID, Event: &ev})
	if err != nil {
		h.log.Error("marshalling event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case events.RoomCreated, events.PlayerJoined:
		if ev.UserID != "" {
			h.rooms[ev.UserID] = ev.RoomID
		}
	}

	for userID, set := range h.clients {
		if h.rooms[userID] != ev.RoomID && userID != ev.UserID {
			continue
		}
		for c := range set {
			select {
			case c.Send <- data:
			default:
				// Drop message if channel full
			}
		}
	}

	switch ev.Kind {
	case events.PlayerLeft, events.PlayerKicked:
		if h.rooms[ev.UserID] == ev.RoomID {
			delete(h.rooms, ev.UserID)
		}
	case events.RoomDeleted:
		for userID, roomID := range h.rooms {
			if roomID == ev.RoomID {
				delete(h.rooms, userID)
			}
		}
	}
}

// Run dispatches events from ch until it is closed or ctx ends.
func (h *Hub) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Dispatch(ev)
		}
	}
}

// BroadcastRoom sends a message to every client routed to roomID except the
// sender. Non-blocking: drops if channel full.
func (h *Hub) BroadcastRoom(roomID, senderID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshalling message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, set := range h.clients {
		if userID == senderID || h.rooms[userID] != roomID {
			continue
		}
		for c := range set {
			select {
			case c.Send <- data:
			default:
			}
		}
	}
}

// Close stops every pending departure timer without running OnDepart.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.pending {
		h.cancelDeparture(id)
	}
}
