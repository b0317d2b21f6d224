package notifications

import (
	"encoding/json"
	"log"
	"time"

	"fitsocial/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Frame is an inbound websocket message. Term is only read for search frames.
type Frame struct {
	Type string `json:"type"`
	Term string `json:"term,omitempty"`
}

// droppedNotice tells a device it missed frames and should reload its relationships.
var droppedNotice = []byte(`{"type":"frames_dropped","payload":{"reason":"buffer_full","action":"refresh"}}`)

// Client is one device connection of a user.
type Client struct {
	hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	UserID string

	// OnFrame, when set, receives every well-formed inbound frame.
	OnFrame func(*Client, Frame)
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump decodes inbound frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ReadPump Error (User %s): %v", c.UserID, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Type == "" {
			log.Printf("WebSocket: invalid frame from user %s", c.UserID)
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(c, frame)
		}
	}
}

// WritePump writes queued frames and keepalive pings until Send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendFrame encodes {"type":frameType,"payload":payload} and queues it.
func (c *Client) SendFrame(frameType string, payload any) error {
	data, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{frameType, payload})
	if err != nil {
		return err
	}
	c.TrySend(data)
	return nil
}

// TrySend queues message without blocking. When the buffer is full the message
// is dropped and a refresh notice is queued in its place if there is room.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "full").Inc()
		log.Printf("Client %s (%s): buffer full, dropped frame", c.UserID, c.hub.Name())
		select {
		case c.Send <- droppedNotice:
		default:
		}
	}
}
