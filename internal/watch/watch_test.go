package watch

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"t3/pkg/envelope"
)

func startTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := NewServer(hub, Info{Command: []string{"make", "test"}, LogFile: "/tmp/run.log"}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestIndexPage(t *testing.T) {
	_, ts := startTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "<code>make test</code>")
	require.Contains(t, string(body), "<code>/tmp/run.log</code>")
	require.Contains(t, string(body), `new WebSocket(`)

	resp, err = http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_ReceivesLinesAndExit(t *testing.T) {
	hub, ts := startTestServer(t)
	conn := dial(t, ts)
	waitForClients(t, hub, 1)

	stamp := time.Unix(1736253296, 123000000)
	require.NoError(t, hub.Emit(envelope.Stderr, envelope.Message{Timestamp: stamp, Text: "warning: x"}))
	hub.Finish(3)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var line Event
	require.NoError(t, conn.ReadJSON(&line))
	require.Equal(t, EventLine, line.Type)
	require.Equal(t, "stderr", line.Stream)
	require.Equal(t, "warning: x", line.Text)
	require.True(t, line.Timestamp.Equal(stamp))

	var exit Event
	require.NoError(t, conn.ReadJSON(&exit))
	require.Equal(t, EventExit, exit.Type)
	require.NotNil(t, exit.ExitCode)
	require.Equal(t, 3, *exit.ExitCode)

	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	waitForClients(t, hub, 0)
}

// syncBuffer is written by server goroutines while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil)).With("pid", 42)
	hub := NewHub(nil)
	ts := httptest.NewServer(NewServer(hub, Info{Command: []string{"true"}}, logger).Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, hub.ClientCount())
	require.Contains(t, logs.String(), "Rejected websocket connection")
	require.Contains(t, logs.String(), "origin=http://evil.example")
	require.Contains(t, logs.String(), "pid=42")
}

func TestHub_DropsWhenClientIsFull(t *testing.T) {
	hub := NewHub(nil)
	client := &Client{ID: "slow", Events: make(chan Event, 1), Done: make(chan struct{})}
	hub.RegisterClient(client)

	hub.Broadcast(Event{Type: EventLine, Text: "first"})
	hub.Broadcast(Event{Type: EventLine, Text: "second"})

	require.Len(t, client.Events, 1)
	require.Equal(t, "first", (<-client.Events).Text)

	hub.UnregisterClient("slow")
	require.Zero(t, hub.ClientCount())
}

func TestHub_FinishIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	hub.Finish(0)
	hub.Finish(1)

	select {
	case <-hub.Finished():
	default:
		t.Fatal("Finished not closed")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := NewServer(NewHub(nil), Info{Command: []string{"true"}}, nil)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(t.Context()))
}
