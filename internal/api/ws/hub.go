// Package ws pushes decision events to connected dashboard clients.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/facegate/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Slow clients get dropped rather than back up the hub.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FrameHandler admits one client-pushed frame. The return value tells
// the client whether the frame was accepted or dropped.
type FrameHandler func(ctx context.Context, streamID, frameID string, photo []byte) bool

// Hub fans decision events out to every connected client and routes
// client-pushed frames into the pipeline.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	onFrame    FrameHandler
}

func NewHub(onFrame FrameHandler) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		onFrame:    onFrame,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
				slog.Debug("ws client disconnected", "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					observability.WSConnections.Dec()
				}
			}
		}
	}
}

// Broadcast marshals v and queues it for every client. Drops the
// message when the hub buffer is full; live events are not replayed.
func (h *Hub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("ws broadcast marshal failed", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		slog.Warn("ws broadcast buffer full, dropping message")
	}
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Handler upgrades the connection and registers the client.
func (h *Hub) Handler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// inboundMessage is what clients may send: currently only frame
// submissions. Photo is base64.
type inboundMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	FrameID  string `json:"frame_id"`
	Photo    string `json:"photo"`
}

type frameAck struct {
	Type     string `json:"type"`
	FrameID  string `json:"frame_id"`
	Accepted bool   `json:"accepted"`
}

// readPump handles inbound traffic: frame submissions are admitted
// through the hub's FrameHandler and acked; everything else is
// drained so pings and close frames work.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(8 << 20) // frames arrive base64-encoded
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != "frame" {
			continue
		}
		if c.hub.onFrame == nil {
			continue
		}

		accepted := false
		if photo, err := base64.StdEncoding.DecodeString(msg.Photo); err == nil {
			accepted = c.hub.onFrame(context.Background(), msg.StreamID, msg.FrameID, photo)
		}

		// A rejected frame is a normal event: the client just sends
		// its next one later.
		if ack, err := json.Marshal(frameAck{Type: "frame_ack", FrameID: msg.FrameID, Accepted: accepted}); err == nil {
			select {
			case c.send <- ack:
			default:
			}
		}
	}
}
