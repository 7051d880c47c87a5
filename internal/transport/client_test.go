package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal chat service: it records every received packet and
// lets the test push raw frames or drop the connection.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	received []map[string]any
	conns    chan *websocket.Conn
	tokens   chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:      t,
		conns:  make(chan *websocket.Conn, 4),
		tokens: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.tokens <- r.URL.Query().Get("token")
		fs.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var pkt map[string]any
			if json.Unmarshal(data, &pkt) == nil {
				fs.mu.Lock()
				fs.received = append(fs.received, pkt)
				fs.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/chat?token={token}"
}

func (fs *fakeServer) conn() *websocket.Conn {
	fs.t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		fs.t.Fatal("no connection accepted")
		return nil
	}
}

func (fs *fakeServer) packets() []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]map[string]any, len(fs.received))
	copy(out, fs.received)
	return out
}

func testDialer(rawURL string) *WebSocketDialer {
	return NewWebSocketDialer(Config{URL: rawURL, EventBuffer: 8}, nil)
}

func nextEvent(t *testing.T, c Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDial_SendsEventsAndToken(t *testing.T) {
	fs := newFakeServer(t)
	c, err := testDialer(fs.url()).Dial(context.Background(), "tok 123", nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.Equal(t, "tok 123", <-fs.tokens)
	fs.conn()

	require.NoError(t, c.Send(context.Background(), Login("rahul", "secret")))
	require.NoError(t, c.Send(context.Background(), JoinRoom("testroom")))

	require.Eventually(t, func() bool { return len(fs.packets()) == 2 }, 2*time.Second, 10*time.Millisecond)
	pkts := fs.packets()
	assert.Equal(t, "login", pkts[0]["handler"])
	assert.Equal(t, "rahul", pkts[0]["username"])
	assert.Equal(t, "joinchatroom", pkts[1]["handler"])
	assert.Equal(t, "testroom", pkts[1]["name"])
}

func TestClient_DeliversEventsInOrder(t *testing.T) {
	fs := newFakeServer(t)
	c, err := testDialer(fs.url()).Dial(context.Background(), "tok", nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	server := fs.conn()

	frames := []string{
		`{"handler":"joinchatroom","roomid":42,"name":"testroom"}`,
		`not json at all`,
		`{"handler":"presence","username":"x"}`,
		`{"handler":"chatroommessage","from":"priya","text":"kya scene"}`,
		`{"handler":"message","username":"amit","body":"hello"}`,
	}
	for _, f := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	ev := nextEvent(t, c)
	assert.Equal(t, EventRoomJoined, ev.Type)
	assert.Equal(t, "42", ev.RoomID)

	ev = nextEvent(t, c)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "priya", ev.Sender)
	assert.Equal(t, "kya scene", ev.Text)

	ev = nextEvent(t, c)
	assert.Equal(t, "amit", ev.Sender)
	assert.Equal(t, "hello", ev.Text)
}

func TestClient_UnexpectedCloseNotifiesOnce(t *testing.T) {
	fs := newFakeServer(t)

	var calls atomic.Int32
	var gotErr atomic.Value
	c, err := testDialer(fs.url()).Dial(context.Background(), "tok", func(err error) {
		calls.Add(1)
		gotErr.Store(err)
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	server := fs.conn()
	_ = server.Close()

	select {
	case _, ok := <-c.Events():
		assert.False(t, ok, "expected events channel to close")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after server drop")
	}

	assert.Equal(t, int32(1), calls.Load())
	var chErr *ChannelError
	assert.True(t, errors.As(gotErr.Load().(error), &chErr))
	assert.False(t, c.Open())

	// Closing afterwards must not notify again.
	_ = c.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ExplicitCloseDoesNotNotify(t *testing.T) {
	fs := newFakeServer(t)

	var calls atomic.Int32
	c, err := testDialer(fs.url()).Dial(context.Background(), "tok", func(error) { calls.Add(1) })
	require.NoError(t, err)
	fs.conn()

	require.NoError(t, c.Close())
	assert.False(t, c.Open())
	assert.Equal(t, int32(0), calls.Load())

	assert.ErrorIs(t, c.Send(context.Background(), SendMessage("1", "hi")), ErrNotOpen)
}

func TestDial_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	rawURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token={token}"
	_, err := testDialer(rawURL).Dial(context.Background(), "secret-token", nil)
	require.Error(t, err)

	var connErr *ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.NotContains(t, connErr.Error(), "secret-token")
	assert.Equal(t, http.StatusForbidden, connErr.StatusCode)
	assert.True(t, connErr.Rejected())
}

func TestDial_UnreachableIsNotRejection(t *testing.T) {
	_, err := testDialer("ws://127.0.0.1:1/?token={token}").Dial(context.Background(), "tok", nil)
	require.Error(t, err)

	var connErr *ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.Zero(t, connErr.StatusCode)
	assert.False(t, connErr.Rejected())
}
