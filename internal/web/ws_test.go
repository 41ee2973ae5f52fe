package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialRemote(t *testing.T, f *fakeSlider) (*websocket.Conn, *Server) {
	t.Helper()
	s, err := NewServer(":0", NewStatusBroadcaster(), f, FormConfig{}, testIntervalDefaults)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Mux())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.Handlers().Broadcaster.Subscribers() == 1 },
		time.Second, 5*time.Millisecond)
	return conn, s
}

func readEvent(t *testing.T, conn *websocket.Conn) StatusEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt StatusEvent
	require.NoError(t, json.Unmarshal(msg, &evt))
	return evt
}

func TestWebsocket_CommandResult(t *testing.T) {
	f := &fakeSlider{}
	conn, _ := dialRemote(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("move 10")))

	evt := readEvent(t, conn)
	assert.Equal(t, "move 10", evt.Command)
	assert.Equal(t, "info", evt.Level)
	assert.Equal(t, "ok", evt.Msg)
	assert.Equal(t, []string{"move 10"}, f.commands())
}

func TestWebsocket_ParseError(t *testing.T) {
	f := &fakeSlider{}
	conn, _ := dialRemote(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("warp 9")))

	evt := readEvent(t, conn)
	assert.Equal(t, "error", evt.Level)
	assert.Contains(t, evt.Msg, "unknown command")
	assert.Empty(t, f.commands())
}

func TestWebsocket_StopWhileBusy(t *testing.T) {
	f := &fakeSlider{block: make(chan struct{})}
	conn, _ := dialRemote(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("go-right")))
	require.Eventually(t, f.Busy, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("center")))
	evt := readEvent(t, conn)
	assert.Equal(t, "error", evt.Level)
	assert.Contains(t, evt.Msg, "busy")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("?")))
	assert.Eventually(t, func() bool { return f.stopCount() == 1 }, time.Second, 5*time.Millisecond)

	close(f.block)
	evt = readEvent(t, conn)
	assert.Equal(t, "go-right", evt.Command)
}

func TestWebsocket_ReceivesBroadcasts(t *testing.T) {
	conn, s := dialRemote(t, &fakeSlider{})

	s.Handlers().Broadcaster.Broadcast("info", "frame 3/10")

	evt := readEvent(t, conn)
	assert.Equal(t, "frame 3/10", evt.Msg)
}

func TestWebsocket_DisconnectUnsubscribes(t *testing.T) {
	conn, s := dialRemote(t, &fakeSlider{})

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return s.Handlers().Broadcaster.Subscribers() == 0 },
		2*time.Second, 10*time.Millisecond)
}
