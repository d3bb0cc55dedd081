package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticResolver map[string]string

func (s staticResolver) ResolveToken(_ *http.Request, token string) (string, error) {
	if uid, ok := s[token]; ok {
		return uid, nil
	}
	return "", errors.New("unknown token")
}

type hubServer struct {
	hub    *Hub
	srv    *httptest.Server
	cancel context.CancelFunc
	// stalled receives clients accepted on /stalled, which run a read pump only.
	stalled chan *Client
}

func runHub(t *testing.T) *hubServer {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	hs := &hubServer{hub: hub, cancel: cancel, stalled: make(chan *Client, 1)}
	e := echo.New()
	e.GET("/ws", ServeWS(hub, staticResolver{"tok-alice": "alice"}))
	e.GET("/stalled", func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return nil
		}
		client := NewClient(hub, conn, "alice")
		if !hub.Register(client) {
			conn.Close()
			return nil
		}
		hs.stalled <- client
		go client.readPump()
		return nil
	})
	hs.srv = httptest.NewServer(e)
	t.Cleanup(hs.srv.Close)
	return hs
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	hs := runHub(t)
	return hs.hub, hs.srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntilClosed drains conn and reports whether the server closed it before the deadline.
func readUntilClosed(conn *websocket.Conn, within time.Duration) bool {
	conn.SetReadDeadline(time.Now().Add(within))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false
			}
			return true
		}
	}
}

func TestServeWS_RejectsUnknownToken(t *testing.T) {
	_, srv := startHub(t)

	_, resp, err := dial(t, srv, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_EmitReachesConnectedUser(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "tok-alice")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.IsOnline("alice") }, time.Second, 10*time.Millisecond)

	n := hub.Emit("alice", EventNewNotification, map[string]string{"type": "like"})
	assert.Equal(t, 1, n)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventNewNotification, msg.Event)
	assert.Equal(t, "like", msg.Payload["type"])
}

func TestHub_EmitToOfflineUser(t *testing.T) {
	hub, _ := startHub(t)
	assert.Equal(t, 0, hub.Emit("bob", EventNewNotification, nil))
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "tok-alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.IsOnline("alice") }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return !hub.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_PingAnsweredWithPong(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "tok-alice")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.IsOnline("alice") }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, eventPong, msg.Event)
}

func TestHub_EvictsSlowClientAndSurvivesPing(t *testing.T) {
	hs := runHub(t)
	url := "ws" + strings.TrimPrefix(hs.srv.URL, "http") + "/stalled"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	client := <-hs.stalled
	require.Eventually(t, func() bool { return hs.hub.IsOnline("alice") }, time.Second, 10*time.Millisecond)

	for i := 0; i < cap(client.send); i++ {
		require.Equal(t, 1, hs.hub.Emit("alice", EventNewNotification, i))
	}
	assert.Equal(t, 0, hs.hub.Emit("alice", EventNewNotification, "overflow"))
	require.Eventually(t, func() bool { return !hs.hub.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)

	// the evicted client's send channel is closed; a ping must not touch it
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	require.Eventually(t, func() bool { return len(client.pong) == 1 }, 2*time.Second, 10*time.Millisecond)

	go client.writePump()
	assert.True(t, readUntilClosed(conn, 3*time.Second), "evicted connection is closed")

	fresh, _, err := dial(t, hs.srv, "tok-alice")
	require.NoError(t, err)
	defer fresh.Close()
	require.Eventually(t, func() bool { return hs.hub.IsOnline("alice") }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hs.hub.Emit("alice", EventNewNotification, "after"))
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	hs := runHub(t)

	conn, _, err := dial(t, hs.srv, "tok-alice")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hs.hub.IsOnline("alice") }, time.Second, 10*time.Millisecond)

	hs.cancel()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`))

	assert.True(t, readUntilClosed(conn, 3*time.Second), "connection is closed on shutdown")
	assert.Equal(t, 0, hs.hub.OnlineUsers())
	assert.False(t, hs.hub.Register(&Client{UserID: "bob"}))
	assert.Equal(t, 0, hs.hub.Emit("alice", EventNewNotification, "late"))
}
