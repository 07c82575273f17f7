package console

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one console viewer. Only the newest snapshot is worth
// writing, so writePump skips anything superseded while it was busy.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	Operator string
}

// readPump only services control frames; the console is driven through
// the JSON API.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case snapshot, ok := <-c.send:
			if ok {
				snapshot, ok = latest(c.send, snapshot)
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// latest drains whatever is already queued behind cur. ok is false once
// the hub has closed the channel.
func latest(ch <-chan []byte, cur []byte) ([]byte, bool) {
	for {
		select {
		case next, ok := <-ch:
			if !ok {
				return cur, false
			}
			cur = next
		default:
			return cur, true
		}
	}
}
