package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securex-labs/securex/internal/auth"
)

const testSecret = "hub-test-secret-16-chars-min"

func newTestHub() *Hub {
	return NewHub(auth.NewManager(testSecret), nil, slog.Default())
}

// newTestClient fabricates a registered connection without a real socket.
// Only the fanout path is exercised; the pumps never run.
func newTestClient(h *Hub, bufSize int) *Client {
	c := &Client{
		ID:    "conn_test",
		hub:   h,
		send:  make(chan []byte, bufSize),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestJoin_Idempotent(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 4)

	h.Join(c, "ops")
	h.Join(c, "ops")
	h.Join(c, "ops")

	assert.Equal(t, 1, h.RoomSize("ops"))

	// One broadcast, one delivery.
	h.BroadcastToRoom("ops", "threat_alert", map[string]string{"x": "y"})
	recvEvent(t, c)
	select {
	case <-c.send:
		t.Fatal("duplicate delivery after repeated joins")
	default:
	}
}

func TestBroadcastToRoom_Delivery(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, 8)
	b := newTestClient(h, 8)
	other := newTestClient(h, 8)

	h.Join(a, "ops")
	h.Join(b, "ops")
	h.Join(other, "net")

	h.BroadcastToRoom("ops", "threat_alert", map[string]string{"id": "thr_1"})

	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		assert.Equal(t, "threat_alert", ev.Event)
		assert.False(t, ev.Timestamp.IsZero())
	}

	// Scoping: the other room saw nothing.
	select {
	case <-other.send:
		t.Fatal("event leaked across rooms")
	default:
	}
}

func TestBroadcastToRoom_OrderPreservedPerClient(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 16)
	h.Join(c, "ops")

	for i := 0; i < 5; i++ {
		h.BroadcastToRoom("ops", "transcript", map[string]int{"seq": i})
	}

	for i := 0; i < 5; i++ {
		ev := recvEvent(t, c)
		data := ev.Data.(map[string]interface{})
		assert.Equal(t, float64(i), data["seq"])
	}
}

func TestBroadcastToRoom_EmptyRoomIsNoop(t *testing.T) {
	h := newTestHub()

	// Never blocks, never panics, never creates the room.
	h.BroadcastToRoom("nobody-here", "threat_alert", "data")
	assert.Equal(t, 0, h.RoomSize("nobody-here"))
}

func TestBroadcastToRoom_EvictsSlowClient(t *testing.T) {
	h := newTestHub()
	slow := newTestClient(h, 1)
	fast := newTestClient(h, 8)

	h.Join(slow, "ops")
	h.Join(fast, "ops")

	// First broadcast fills the slow client's buffer, second overflows it.
	h.BroadcastToRoom("ops", "threat_alert", 1)
	h.BroadcastToRoom("ops", "threat_alert", 2)

	assert.True(t, slow.isClosed())
	assert.Equal(t, 1, h.RoomSize("ops"))

	// The healthy client got both.
	recvEvent(t, fast)
	recvEvent(t, fast)

	// Further broadcasts still reach the survivor.
	h.BroadcastToRoom("ops", "threat_alert", 3)
	recvEvent(t, fast)
}

func TestLeave_PrunesEmptyRoom(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 4)

	h.Join(c, "ops")
	require.Equal(t, 1, h.RoomSize("ops"))

	h.Leave(c, "ops")
	assert.Equal(t, 0, h.RoomSize("ops"))

	_, exists := h.rooms.Load("ops")
	assert.False(t, exists, "empty room should be pruned")

	// Rejoining after the prune works (dead-room retry path).
	h.Join(c, "ops")
	assert.Equal(t, 1, h.RoomSize("ops"))
}

func TestLeave_UnknownRoomIsNoop(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 4)
	h.Leave(c, "never-existed")
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 4)
	h.Join(c, "ops")
	h.Join(c, "net")

	h.disconnect(c)
	h.disconnect(c) // second call must not double-close the done channel

	assert.True(t, c.isClosed())
	assert.Equal(t, 0, h.RoomSize("ops"))
	assert.Equal(t, 0, h.RoomSize("net"))

	// Joining after disconnect is refused.
	h.Join(c, "ops")
	assert.Equal(t, 0, h.RoomSize("ops"))
}

func TestJoin_RacingDisconnectLeavesNoMember(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 1)

	// Hold the room lock so Join parks on it, then complete the full
	// teardown before letting Join proceed. The joiner must observe the
	// teardown and back out instead of inserting a dead connection.
	r := h.getRoom("ops")
	joined := make(chan struct{})
	go func() {
		h.Join(c, "ops")
		close(joined)
	}()
	time.Sleep(20 * time.Millisecond) // let Join reach the room lock
	h.disconnect(c)
	r.mu.Unlock()
	<-joined

	assert.Equal(t, 0, h.RoomSize("ops"))
	assert.NotPanics(t, func() {
		h.BroadcastToRoom("ops", "threat_alert", map[string]string{"id": "thr_1"})
	})
}

func TestBroadcastToRoom_DuringDisconnectDoesNotPanic(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 1)
	h.Join(c, "ops")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h.BroadcastToRoom("ops", "threat_alert", j)
			}
		}()
	}
	h.disconnect(c)
	wg.Wait()

	assert.Equal(t, 0, h.RoomSize("ops"))
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	h := newTestHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(h, 64)
			for j := 0; j < 50; j++ {
				h.Join(c, "ops")
				h.BroadcastToRoom("ops", "threat_alert", j)
				h.Leave(c, "ops")
			}
			h.disconnect(c)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.RoomSize("ops"))
}

func TestClientSend_NonBlocking(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, 1)

	assert.True(t, c.Send("transcript", "one"))
	assert.False(t, c.Send("transcript", "overflow"), "full buffer must not block")

	h.disconnect(c)
	assert.False(t, c.Send("transcript", "closed"))
}

// -----------------------------------------------------------------------------
// Handshake
// -----------------------------------------------------------------------------

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandleWebSocket_RejectsMissingToken(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	//nolint:bodyclose // dial failure, no body to close
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocket_RejectsBadToken(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocket_AuthenticatedRoundTrip(t *testing.T) {
	mgr := auth.NewManager(testSecret)
	h := NewHub(mgr, nil, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	token, err := mgr.Mint("analyst-1", "analyst", time.Hour)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// Join a room over the control channel, then receive a broadcast.
	require.NoError(t, conn.WriteJSON(controlMessage{Action: "join", Room: "ops"}))
	require.Eventually(t, func() bool { return h.RoomSize("ops") == 1 }, time.Second, 5*time.Millisecond)

	h.BroadcastToRoom("ops", "threat_alert", map[string]string{"threatId": "thr_1"})

	var ev Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "threat_alert", ev.Event)

	// Leave and verify the room drains.
	require.NoError(t, conn.WriteJSON(controlMessage{Action: "leave", Room: "ops"}))
	require.Eventually(t, func() bool { return h.RoomSize("ops") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandleWebSocket_AllowsDashboardOrigin(t *testing.T) {
	mgr := auth.NewManager(testSecret)
	h := NewHub(mgr, []string{"http://localhost:3000"}, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	token, err := mgr.Mint("analyst-1", "analyst", time.Hour)
	require.NoError(t, err)

	hdr := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, hdr)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestHandleWebSocket_RejectsUnknownOrigin(t *testing.T) {
	mgr := auth.NewManager(testSecret)
	h := NewHub(mgr, []string{"http://localhost:3000"}, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	token, err := mgr.Mint("analyst-1", "analyst", time.Hour)
	require.NoError(t, err)

	hdr := http.Header{"Origin": []string{"http://evil.example"}}
	//nolint:bodyclose // dial failure, no body to close
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleWebSocket_RejectsAfterClose(t *testing.T) {
	mgr := auth.NewManager(testSecret)
	h := NewHub(mgr, nil, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()

	token, err := mgr.Mint("analyst-1", "analyst", time.Hour)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, resp, dialErr := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, nil)
		if dialErr == nil {
			return false
		}
		return resp != nil && resp.StatusCode == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)
}
