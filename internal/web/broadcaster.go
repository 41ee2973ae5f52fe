package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/logic/command"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// StatusEvent is one status message pushed to SSE and websocket clients.
type StatusEvent struct {
	Time    string        `json:"t"`
	Level   string        `json:"l,omitempty"`
	Msg     string        `json:"msg"`
	Command string        `json:"cmd,omitempty"`
	Output  string        `json:"output,omitempty"`
	State   *motion.State `json:"state,omitempty"`
}

// StatusBroadcaster fans status events out to every subscribed client.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of connected clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a plain message to all subscribed clients.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastResult publishes the outcome of a command together with the
// slider state it left behind.
func (b *StatusBroadcaster) BroadcastResult(res command.Result, err error) {
	evt := StatusEvent{
		Command: res.Command,
		Output:  res.Output,
		State:   &res.State,
	}
	if err != nil {
		evt.Level = "error"
		evt.Msg = err.Error()
	} else {
		evt.Level = "info"
		evt.Msg = "ok"
	}
	b.publish(evt)
}

// BroadcastState publishes a position update.
func (b *StatusBroadcaster) BroadcastState(s motion.State) {
	b.publish(StatusEvent{Level: "state", Msg: "position", State: &s})
}

func (b *StatusBroadcaster) publish(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as an io.Writer for debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
