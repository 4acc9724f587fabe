package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/config"
)

type recordingHandler struct {
	mu           sync.Mutex
	connected    []string
	tokens       []string
	events       []Envelope
	disconnected []string
}

func (h *recordingHandler) Connected(connID, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, connID)
	h.tokens = append(h.tokens, token)
}

func (h *recordingHandler) HandleEvent(connID string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, env)
}

func (h *recordingHandler) Disconnected(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, connID)
}

func (h *recordingHandler) snapshot() (connected, disconnected []string, events []Envelope, tokens []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.connected...),
		append([]string{}, h.disconnected...),
		append([]Envelope{}, h.events...),
		append([]string{}, h.tokens...)
}

func dialTestServer(t *testing.T, token string) (*websocket.Conn, *recordingHandler, *Hub) {
	t.Helper()

	handler := &recordingHandler{}
	hub := newTestHub(nil)
	srv := NewServer(config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
	}, hub, handler, zap.NewNop())

	ts := httptest.NewServer(http.HandlerFunc(srv.serveWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, handler, hub
}

func TestServerInvokesConnectedWithToken(t *testing.T) {
	_, handler, hub := dialTestServer(t, "token-abc")

	assert.Eventually(t, func() bool {
		connected, _, _, tokens := handler.snapshot()
		return len(connected) == 1 && len(tokens) == 1 && tokens[0] == "token-abc"
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, hub.ConnCount())
}

func TestServerForwardsInboundEnvelopes(t *testing.T) {
	conn, handler, _ := dialTestServer(t, "")

	msg := `{"type":"ping","data":{"n":1}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	assert.Eventually(t, func() bool {
		_, _, events, _ := handler.snapshot()
		return len(events) == 1 && events[0].Type == "ping"
	}, time.Second, 10*time.Millisecond)
}

func TestServerRejectsMalformedFrames(t *testing.T) {
	conn, handler, _ := dialTestServer(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error"`)
	assert.Contains(t, string(raw), "malformed message")

	_, _, events, _ := handler.snapshot()
	assert.Empty(t, events)
}

func TestServerRejectsEnvelopeWithoutType(t *testing.T) {
	conn, handler, _ := dialTestServer(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "malformed message")

	_, _, events, _ := handler.snapshot()
	assert.Empty(t, events)
}

func TestServerInvokesDisconnectedOnClose(t *testing.T) {
	conn, handler, hub := dialTestServer(t, "")

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		connected, disconnected, _, _ := handler.snapshot()
		return len(connected) == 1 && len(disconnected) == 1 && connected[0] == disconnected[0]
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return hub.ConnCount() == 0
	}, time.Second, 10*time.Millisecond)
}
