package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"

	"nhooyr.io/websocket"
)

// Control message types on the WebSocket.
const (
	// EventSnapshot is the first message on every connection. Its data
	// holds the current lights and groups; live events follow.
	EventSnapshot   = "snapshot"
	EventSubscribed = "subscribed"
	EventError      = "error"
)

const (
	wsSendBuffer   = 64
	wsEventBuffer  = 256
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type snapshotData struct {
	Lights []lights.Light `json:"lights"`
	Groups []lights.Group `json:"groups"`
}

// EventFilter narrows the events one client receives. Empty lists match
// everything. Events that carry no light (group and gateway events) are
// only subject to the type list.
type EventFilter struct {
	Types  []string            `json:"types,omitempty"`
	Lights []protocol.DeviceID `json:"lights,omitempty"`
}

func (f EventFilter) match(ev lights.Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	if len(f.Lights) == 0 {
		return true
	}
	var id protocol.DeviceID
	switch d := ev.Data.(type) {
	case lights.LightRef:
		id = d.ID
	case lights.PropertyChange:
		id = d.ID
	default:
		return true
	}
	return slices.Contains(f.Lights, id)
}

// filterFromQuery reads ?events=a,b and ?lights=id,id.
func filterFromQuery(r *http.Request) (EventFilter, error) {
	var f EventFilter
	if v := r.URL.Query().Get("events"); v != "" {
		f.Types = strings.Split(v, ",")
	}
	if v := r.URL.Query().Get("lights"); v != "" {
		for _, s := range strings.Split(v, ",") {
			id, err := protocol.ParseDeviceID(s)
			if err != nil {
				return EventFilter{}, err
			}
			f.Lights = append(f.Lights, id)
		}
	}
	return f, nil
}

// wsRequest is what clients may send: a replacement filter.
type wsRequest struct {
	Subscribe *EventFilter `json:"subscribe"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	filter EventFilter
}

func newWSClient(conn *websocket.Conn, f EventFilter) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), filter: f}
}

func (c *wsClient) wants(ev lights.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.match(ev)
}

func (c *wsClient) setFilter(f EventFilter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// WSHub fans light events out to WebSocket clients. Events are queued by
// Broadcast and delivered by Run; a client whose buffer is full is
// dropped.
type WSHub struct {
	logger *slog.Logger
	events chan lights.Event

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		logger:  logger,
		events:  make(chan lights.Event, wsEventBuffer),
		clients: make(map[*wsClient]struct{}),
		done:    make(chan struct{}),
	}
}

// add registers c. It reports false once the hub has stopped.
func (h *WSHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("ws client connected", "total", len(h.clients))
	return true
}

// remove unregisters c and closes its send channel. Unknown clients are
// ignored.
func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug("ws client disconnected", "total", len(h.clients))
}

func (h *WSHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run delivers queued events until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			h.stopped = true
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *WSHub) deliver(ev lights.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal", "event", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("ws client evicted (too slow)", "event", ev.Type)
		}
	}
}

// Stop shuts the hub down and closes every client. Safe to call more
// than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event without blocking. It is dropped when the
// queue is full.
func (h *WSHub) Broadcast(ev lights.Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("ws event queue full, dropping", "event", ev.Type)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.wsOriginPatterns()
	}
	// Without allowed origins websocket.Accept enforces same-origin.
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := newWSClient(conn, filter)
	snap := lights.Event{Type: EventSnapshot, Data: snapshotData{
		Lights: s.lights.Lights(),
		Groups: s.lights.Groups(),
	}}
	client.send <- mustMarshal(snap)

	if !s.wsHub.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func mustMarshal(ev lights.Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		data, _ = json.Marshal(lights.Event{Type: EventError, Data: err.Error()})
	}
	return data
}

func (s *Server) wsWritePump(client *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				s.logger.Debug("ws ping failed", "err", err)
				client.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// wsReadPump applies subscribe requests until the connection or the hub
// goes away.
func (s *Server) wsReadPump(client *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.wsHub.remove(client)

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Subscribe == nil {
			s.reply(client, lights.Event{Type: EventError, Data: "expected {\"subscribe\": {...}}"})
			continue
		}
		client.setFilter(*req.Subscribe)
		s.reply(client, lights.Event{Type: EventSubscribed, Data: *req.Subscribe})
	}
}

// reply queues a control message for one client. It is dropped when the
// client is already gone or its buffer is full.
func (s *Server) reply(client *wsClient, ev lights.Event) {
	s.wsHub.mu.Lock()
	defer s.wsHub.mu.Unlock()
	if _, ok := s.wsHub.clients[client]; !ok {
		return
	}
	select {
	case client.send <- mustMarshal(ev):
	default:
	}
}
