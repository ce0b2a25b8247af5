package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub_FiltersByFaction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	all := dial(t, srv, "")
	blue := dial(t, srv, "?faction=blue")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.NotifyFaction(ctx, "red", "for red"))
	require.NoError(t, hub.NotifyFaction(ctx, "blue", "for blue"))

	assert.Equal(t, "for red", readMessage(t, all).Text)
	assert.Equal(t, "for blue", readMessage(t, all).Text)

	m := readMessage(t, blue)
	assert.Equal(t, "blue", m.FactionID)
	assert.Equal(t, "for blue", m.Text)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub() // not running, nothing drains the buffer
	ctx := context.Background()
	for i := 0; i < cap(hub.broadcast); i++ {
		require.NoError(t, hub.NotifyFaction(ctx, "red", "x"))
	}
	assert.ErrorIs(t, hub.NotifyFaction(ctx, "red", "x"), ErrDropped)
}

func TestHub_RunClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, hub.Clients())
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	return mux
}
