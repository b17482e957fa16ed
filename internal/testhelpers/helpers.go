// Package testhelpers provides common utilities for testing the chat server
// over real HTTP and WebSocket connections.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the Origin header sent by ConnectWebSocket.
const DefaultOrigin = "http://localhost:8080"

// Frame is a decoded server frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v), "decode %s payload", f.Event)
}

// CreateTestServer starts a test HTTP server with handler and closes it when
// the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// WebSocketURL converts the base URL of a test server into its /ws endpoint.
func WebSocketURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}

// MakeRequest executes an HTTP request with a 5-second timeout. The caller
// closes the body.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// DecodeJSON reads and closes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// ConnectWebSocket dials wsURL with the given Origin header. An empty origin
// sends DefaultOrigin.
func ConnectWebSocket(wsURL, origin string) (*websocket.Conn, *http.Response, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)
	return dialer.Dial(wsURL, headers)
}

// MustConnect dials wsURL, fails the test on error and closes the
// connection when the test ends.
func MustConnect(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := ConnectWebSocket(wsURL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one client frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// ReadFrame reads the next frame, waiting at most timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, err
	}
	var f Frame
	err := conn.ReadJSON(&f)
	return f, err
}

// WaitForEvent reads frames until one named event arrives, discarding the
// others, and fails the test after two seconds.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "timed out waiting for %s", event)
		f, err := ReadFrame(conn, remaining)
		require.NoError(t, err, "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

// ExpectNoEvent fails the test if a frame named event arrives within wait.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		f, err := ReadFrame(conn, time.Until(deadline))
		if err != nil {
			return
		}
		require.NotEqual(t, event, f.Event, "unexpected %s frame", event)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
