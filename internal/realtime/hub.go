// Package realtime provides room-scoped WebSocket fanout for the dashboard.
//
// Clients authenticate at handshake time with a signed bearer token,
// join one or more rooms, and receive best-effort broadcasts:
// - threat_alert for high-risk events
// - call_start / call_end lifecycle signals
// - transcript / transcript_error delivery
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/securex-labs/securex/internal/auth"
	"github.com/securex-labs/securex/internal/idgen"
	"github.com/securex-labs/securex/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// newUpgrader builds the handshake upgrader. Browsers send an Origin
// header, which must either match the serving host or appear in the
// configured allow list (the dashboard is served from a different
// origin than the API). Non-browser clients send no Origin.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Allow non-browser clients
			}
			host := r.Host
			if origin == "http://"+host || origin == "https://"+host {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// Event is the wire envelope for everything the hub delivers.
type Event struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// controlMessage is what clients send upstream: room membership changes.
type controlMessage struct {
	Action string `json:"action"` // "join" or "leave"
	Room   string `json:"room"`
}

// TokenVerifier validates a handshake credential. Satisfied by auth.Manager.
type TokenVerifier interface {
	Verify(rawToken string) (*auth.Claims, error)
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// room holds one room's membership under its own lock so unrelated
// rooms never contend.
type room struct {
	name    string
	mu      sync.RWMutex
	members map[*Client]struct{}
	dead    bool // set when pruned from the hub; joiners must retry
}

// Hub manages authenticated connections and room membership.
type Hub struct {
	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	rooms sync.Map // map[string]*room

	mu      sync.Mutex // guards clients set only; never held during fanout
	clients map[*Client]struct{}

	done       chan struct{} // closed on shutdown; prevents upgrade race
	closeOnce  sync.Once
	maxClients int

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a gateway hub. allowedOrigins lists browser origins
// accepted at handshake time in addition to same-host. The hub accepts
// connections immediately; Run only ties shutdown to a context.
func NewHub(verifier TokenVerifier, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		verifier:   verifier,
		logger:     logger,
		upgrader:   newUpgrader(allowedOrigins),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run blocks until ctx is cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	<-ctx.Done()
	h.Close()
}

// Close shuts the hub down: rejects new upgrades and disconnects everyone.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		clients := make([]*Client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.Unlock()
		for _, c := range clients {
			h.disconnect(c)
		}
		h.logger.Info("realtime hub stopped")
	})
}

// getRoom returns the live room for name, creating it if needed.
func (h *Hub) getRoom(name string) *room {
	for {
		v, _ := h.rooms.LoadOrStore(name, &room{name: name, members: make(map[*Client]struct{})})
		r := v.(*room)
		r.mu.Lock()
		if !r.dead {
			return r // returned locked; caller must unlock
		}
		r.mu.Unlock()
		// Pruned between load and lock; drop the stale entry and retry.
		h.rooms.CompareAndDelete(name, r)
	}
}

// Join adds a connection to a room. Idempotent: joining a room the
// connection already belongs to is a no-op.
func (h *Hub) Join(c *Client, name string) {
	r := h.getRoom(name) // locked

	// The closed check and the c.rooms insert must share one critical
	// section: disconnect flips closed before it walks c.rooms, so either
	// we see the flag here and bail, or disconnect sees this room and
	// removes the membership we are about to add.
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		if len(r.members) == 0 && !r.dead {
			r.dead = true
			h.rooms.CompareAndDelete(name, r)
		}
		r.mu.Unlock()
		return
	}
	c.rooms[name] = struct{}{}
	c.mu.Unlock()

	if _, ok := r.members[c]; !ok {
		r.members[c] = struct{}{}
		metrics.RoomMembers.WithLabelValues(name).Set(float64(len(r.members)))
	}
	r.mu.Unlock()

	h.logger.Debug("client joined room", "connection_id", c.ID, "room", name)
}

// Leave removes a connection from a room. Unknown rooms are a no-op.
func (h *Hub) Leave(c *Client, name string) {
	v, ok := h.rooms.Load(name)
	if !ok {
		return
	}
	r := v.(*room)
	r.mu.Lock()
	delete(r.members, c)
	n := len(r.members)
	if n == 0 && !r.dead {
		r.dead = true
		h.rooms.CompareAndDelete(name, r)
		metrics.RoomMembers.DeleteLabelValues(name)
	} else {
		metrics.RoomMembers.WithLabelValues(name).Set(float64(n))
	}
	r.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()
}

// RoomSize returns the current membership count for a room.
func (h *Hub) RoomSize(name string) int {
	v, ok := h.rooms.Load(name)
	if !ok {
		return 0
	}
	r := v.(*room)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// BroadcastToRoom delivers an event to every current member of a room.
// Best-effort and non-blocking: a slow client is evicted rather than
// allowed to stall the broadcaster. A room with no members is a no-op.
func (h *Hub) BroadcastToRoom(name, event string, data interface{}) {
	v, ok := h.rooms.Load(name)
	if !ok {
		return
	}
	r := v.(*room)

	payload, err := json.Marshal(&Event{Event: event, Timestamp: time.Now(), Data: data})
	if err != nil {
		h.logger.Error("failed to serialize event", "event", event, "error", err)
		return
	}
	h.totalEvents.Add(1)

	var slow []*Client
	r.mu.RLock()
	for c := range r.members {
		select {
		case c.send <- payload:
		case <-c.done:
			// Mid-teardown; disconnect will prune the membership.
		default:
			slow = append(slow, c)
		}
	}
	r.mu.RUnlock()

	// Evict slow clients outside the room lock.
	for _, c := range slow {
		h.logger.Warn("dropping slow client", "connection_id", c.ID, "room", name)
		h.disconnect(c)
	}
}

// disconnect tears a connection down: removes it from every room,
// signals the pumps to stop, and releases hub state. Safe to call more
// than once. The send channel is never closed, so a broadcast racing
// with teardown can never panic; it selects on done instead.
func (h *Hub) disconnect(c *Client) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	names := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		names = append(names, name)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for _, name := range names {
		v, ok := h.rooms.Load(name)
		if !ok {
			continue
		}
		r := v.(*room)
		r.mu.Lock()
		delete(r.members, c)
		n := len(r.members)
		if n == 0 && !r.dead {
			r.dead = true
			h.rooms.CompareAndDelete(name, r)
			metrics.RoomMembers.DeleteLabelValues(name)
		} else {
			metrics.RoomMembers.WithLabelValues(name).Set(float64(n))
		}
		r.mu.Unlock()
	}

	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))

	close(c.done) // writePump sends CloseMessage and exits
	h.logger.Info("client disconnected", "connection_id", c.ID, "total", n)
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()

	roomCount := 0
	h.rooms.Range(func(_, _ interface{}) bool {
		roomCount++
		return true
	})

	return map[string]interface{}{
		"connectedClients": n,
		"rooms":            roomCount,
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
	}
}

// HandleWebSocket authenticates the handshake and upgrades HTTP to
// WebSocket. Authentication failures reject the handshake with 401;
// no connection is ever established unauthenticated.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	claims, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "authentication failed: "+err.Error(), http.StatusUnauthorized)
		return
	}

	// Enforce connection limit
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:          idgen.WithPrefix("conn_"),
		PrincipalID: claims.UserID,
		Role:        claims.Role,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		rooms:       make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.totalClients.Add(1)
	metrics.ActiveWebSocketClients.Set(float64(total))
	h.logger.Info("client connected",
		"connection_id", client.ID,
		"principal", client.PrincipalID,
		"total", total,
	)

	go client.writePump()
	go client.readPump()
}
