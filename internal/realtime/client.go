package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readLimit    = 512 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Client represents one authenticated WebSocket connection.
type Client struct {
	ID          string
	PrincipalID string
	Role        string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{} // closed by Hub.disconnect
	closed atomic.Bool

	mu    sync.Mutex
	rooms map[string]struct{}
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}

// Send queues an event for this connection only. Non-blocking: returns
// false if the client's buffer is full or the connection is closed.
func (c *Client) Send(event string, data interface{}) bool {
	if c.isClosed() {
		return false
	}
	payload, err := json.Marshal(&Event{Event: event, Timestamp: time.Now(), Data: data})
	if err != nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump reads control messages from the WebSocket (join/leave, pings)
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "connection_id", c.ID, "error", err)
			}
			break
		}

		var msg controlMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Room == "" {
			continue
		}
		switch msg.Action {
		case "join":
			c.hub.Join(c, msg.Room)
		case "leave":
			c.hub.Leave(c, msg.Room)
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "connection_id", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "connection_id", c.ID, "error", err)
				return
			}
		}
	}
}
