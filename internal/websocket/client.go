package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"telemetry-service/internal/broker"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
)

// Frame is one message written to a socket.
type Frame struct {
	Topic string           `json:"topic"`
	Event models.EventKind `json:"event"`
	Data  interface{}      `json:"data"`
}

// Client is a middleman between the websocket connection and a bus subscription.
type Client struct {
	conn   *websocket.Conn
	sub    *broker.Subscription
	logger *logging.Logger
	done   chan struct{}
}

func newClient(conn *websocket.Conn, sub *broker.Subscription, logger *logging.Logger) *Client {
	return &Client{conn: conn, sub: sub, logger: logger, done: make(chan struct{})}
}

// readPump drains control frames and ends the client when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		// Broadcast only; client messages are ignored.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warnf("WebSocket read error from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// writePump forwards bus events to the connection until either side closes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The bus closed the subscription.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			msg, err := json.Marshal(Frame{Topic: ev.Topic, Event: ev.Kind, Data: ev.Data})
			if err != nil {
				c.logger.Errorf("Failed to encode %s event: %v", ev.Kind, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debugf("WebSocket write to %s failed: %v", c.conn.RemoteAddr(), err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
