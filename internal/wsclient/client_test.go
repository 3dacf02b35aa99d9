package wsclient

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexsniper/snipectl/internal/apperr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnectDebounce = 5 * time.Millisecond
	opts.BaseReconnectDelay = 10 * time.Millisecond
	opts.MaxReconnectDelay = 100 * time.Millisecond
	opts.DialTimeout = time.Second
	opts.PingInterval = 0
	return opts
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestClient_ConnectAndReceive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		err = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"engine_status","data":{"mode":"standard","is_running":true}}`))
		require.NoError(t, err)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	opened := make(chan struct{})
	received := make(chan Message, 1)

	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{
		OnOpen:    func() { close(opened) },
		OnMessage: func(m Message) { received <- m },
	})
	client.Connect()
	defer client.Disconnect()

	waitFor(t, opened, time.Second, "open")
	assert.Equal(t, StateOpen, client.State())

	select {
	case msg := <-received:
		assert.Equal(t, "engine_status", msg.Type)
		assert.Contains(t, string(msg.Data), "standard")
		assert.False(t, msg.ReceivedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

// A connect/disconnect/connect cycle inside the debounce window must open
// at most one socket, and a second Connect on a live channel is a no-op.
func TestClient_DoubleMountSingleSocket(t *testing.T) {
	var upgrades atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		upgrades.Add(1)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	opts := testOptions()
	opts.ConnectDebounce = 30 * time.Millisecond
	client := New(wsURL(server), opts)

	client.Connect()
	client.Disconnect()
	client.Connect()
	client.Connect() // no-op while connecting
	defer client.Disconnect()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), upgrades.Load(), "expected exactly one socket")
	assert.Equal(t, StateOpen, client.State())
}

func TestClient_SendRequiresOpen(t *testing.T) {
	client := New("ws://localhost:1/ws", testOptions())
	ok, err := client.Send(map[string]string{"type": "refresh_status"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_SendSerializesAndPassesThrough(t *testing.T) {
	frames := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(msg)
		}
	}))
	defer server.Close()

	opened := make(chan struct{})
	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{OnOpen: func() { close(opened) }})
	client.Connect()
	defer client.Disconnect()
	waitFor(t, opened, time.Second, "open")

	ok, err := client.Send(map[string]any{"type": "subscribe"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.Send("raw-text")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.JSONEq(t, `{"type":"subscribe"}`, <-frames)
	assert.Equal(t, "raw-text", <-frames)
}

// Reconnect attempts are bounded; exhaustion surfaces one terminal
// BackendUnavailable error and nothing more runs until Reconnect().
func TestClient_BoundedReconnects(t *testing.T) {
	// Grab a port that nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	opts := testOptions()
	opts.MaxReconnectAttempts = 3

	terminal := make(chan *apperr.Classified, 1)
	client := New("ws://"+addr+"/ws/autotrade", opts)
	client.Subscribe(Handlers{
		OnError: func(c *apperr.Classified) { terminal <- c },
	})
	client.Connect()
	defer client.Disconnect()

	select {
	case c := <-terminal:
		assert.Equal(t, apperr.BackendUnavailable, c.Category)
		assert.Equal(t, apperr.RecoveryRetry, c.Recovery)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal error never surfaced")
	}

	assert.Equal(t, StateClosed, client.State())

	// Budget is spent; the counter stays put with no manual Reconnect.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateClosed, client.State())
}

func TestClient_CleanCloseDoesNotReconnect(t *testing.T) {
	var upgrades atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		upgrades.Add(1)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		conn.Close()
	}))
	defer server.Close()

	closed := make(chan int, 1)
	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{
		OnClose: func(code int, _ string) { closed <- code },
	})
	client.Connect()
	defer client.Disconnect()

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(time.Second):
		t.Fatal("close never delivered")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), upgrades.Load(), "clean close must not trigger reconnect")
	assert.Equal(t, StateClosed, client.State())
}

// A dropped connection reconnects, and a successful open resets the
// attempt counter.
func TestClient_ReconnectsAfterDrop(t *testing.T) {
	var upgrades atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if upgrades.Add(1) == 1 {
			// Drop the first connection without a close frame.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	opens := make(chan struct{}, 4)
	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{OnOpen: func() { opens <- struct{}{} }})
	client.Connect()
	defer client.Disconnect()

	waitFor(t, opens, time.Second, "first open")
	waitFor(t, opens, 2*time.Second, "reopen after drop")
	assert.Equal(t, 0, client.Attempts(), "attempts reset after successful open")
	assert.Equal(t, StateOpen, client.State())
}

func TestClient_HandlerPanicIsolated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"first"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"second"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	second := make(chan struct{})
	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{
		OnMessage: func(m Message) {
			if m.Type == "first" {
				panic("subscriber bug")
			}
			if m.Type == "second" {
				close(second)
			}
		},
	})
	client.Connect()
	defer client.Disconnect()

	waitFor(t, second, time.Second, "second message after panic")
	assert.Equal(t, StateOpen, client.State())
}

// Frames that fail to parse as a typed envelope are still delivered.
func TestClient_MalformedFrameDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("plainly not json"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	received := make(chan Message, 1)
	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{OnMessage: func(m Message) { received <- m }})
	client.Connect()
	defer client.Disconnect()

	select {
	case msg := <-received:
		assert.Empty(t, msg.Type)
		assert.Equal(t, "plainly not json", string(msg.Raw))
	case <-time.After(time.Second):
		t.Fatal("malformed frame was dropped")
	}
}

// After Disconnect, no callbacks fire and no timers remain; the client
// can be connected again later.
func TestClient_TeardownSilencesCallbacks(t *testing.T) {
	msgCount := atomic.Int32{}
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		<-release
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"late"}`))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()
	defer close(release)

	opened := make(chan struct{})
	client := New(wsURL(server), testOptions())
	client.Subscribe(Handlers{
		OnOpen:    func() { close(opened) },
		OnMessage: func(Message) { msgCount.Add(1) },
		OnClose:   func(int, string) { msgCount.Add(1) },
	})
	client.Connect()
	waitFor(t, opened, time.Second, "open")

	client.Disconnect()
	release <- struct{}{}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), msgCount.Load(), "no callbacks after teardown")

	// The channel object stays usable.
	reopened := make(chan struct{})
	client.Subscribe(Handlers{OnOpen: func() { close(reopened) }})
	client.Connect()
	defer client.Disconnect()
	waitFor(t, reopened, time.Second, "reconnect after teardown")
}
