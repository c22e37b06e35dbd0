package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func serverSocket(t *testing.T) *websocket.Conn {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-accepted:
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the websocket")
		return nil
	}
}

func TestConn_ReportsFramesLeftInQueue(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	c := newConn("conn-1", serverSocket(t), make([]byte, 32), cfg)

	dropped := make(chan int, 1)
	c.onDrop = func(n int) { dropped <- n }

	require.NoError(t, c.Send([]byte("first")))
	require.NoError(t, c.Send([]byte("second")))
	require.NoError(t, c.Send([]byte("third")))

	// The first write fails on the closed socket, stranding the rest.
	require.NoError(t, c.ws.Close())
	go c.writeLoop()

	select {
	case n := <-dropped:
		require.Equal(t, 2, n)
	case <-time.After(5 * time.Second):
		t.Fatal("writer exit was not reported")
	}
	<-c.writerDone
	require.ErrorIs(t, c.Send([]byte("late")), ErrConnectionClosed)
}
