package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/command"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Commands are one short line.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The remote is served on the local network only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one websocket remote. Every inbound text message is a
// command line; outbound messages are StatusEvent JSON, the same stream
// SSE clients see, plus direct replies for rejected commands.
type wsClient struct {
	h      *Handlers
	conn   *websocket.Conn
	events <-chan string
	send   chan []byte
	done   chan struct{}
}

// HandleWebsocket handles GET /ws.
func (h *Handlers) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("websocket upgrade: %v", err)
		return
	}

	events, unsub := h.Broadcaster.Subscribe()
	c := &wsClient{
		h:      h,
		conn:   conn,
		events: events,
		send:   make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	debug.Verbose("websocket client connected from %s", r.RemoteAddr)

	go c.writePump()
	go func() {
		defer unsub()
		c.readPump()
	}()
}

// readPump reads command lines until the peer goes away. A stop is
// forwarded to the slider before anything else happens.
func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warn("websocket read: %v", err)
			}
			return
		}
		c.handle(strings.TrimSpace(string(message)))
	}
}

func (c *wsClient) handle(line string) {
	if c.h.Slider == nil {
		c.reply(StatusEvent{Level: "error", Msg: "slider not configured"})
		return
	}

	cmd, err := command.Parse(line)
	if err != nil {
		c.reply(StatusEvent{Level: "error", Msg: err.Error(), Command: line})
		return
	}

	err = c.h.Slider.Start(c.h.baseContext(), cmd, func(res command.Result, err error) {
		c.h.Broadcaster.BroadcastResult(res, err)
	})
	if errors.Is(err, command.ErrBusy) {
		c.reply(StatusEvent{Level: "error", Msg: "busy with " + c.h.Slider.Current(), Command: cmd.String()})
		return
	}
	if err != nil {
		c.reply(StatusEvent{Level: "error", Msg: err.Error(), Command: cmd.String()})
	}
}

func (c *wsClient) reply(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// client not draining, drop
	}
}

// writePump forwards broadcast events and direct replies to the peer and
// keeps the connection alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.events:
			if !ok {
				return
			}
			if !c.write([]byte(msg)) {
				return
			}
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *wsClient) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
}

func (h *Handlers) baseContext() context.Context {
	if h.ctx == nil {
		return context.Background()
	}
	return h.ctx
}
