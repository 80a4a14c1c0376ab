package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockAPIServer provides a mock messaging API server for testing.
type MockAPIServer struct {
	*httptest.Server
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	captures []Capture
}

// NewMockServer creates a mock API server.
// The server is automatically closed when the test completes.
func NewMockServer(t *testing.T) *MockAPIServer {
	t.Helper()

	m := &MockAPIServer{
		t:        t,
		handlers: make(map[string]http.HandlerFunc),
		captures: make([]Capture, 0),
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

func (m *MockAPIServer) handle(w http.ResponseWriter, r *http.Request) {
	// Read body once for capture
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()

	// Restore body for downstream handler
	r.Body = io.NopCloser(bytes.NewReader(body))

	m.mu.Lock()
	m.captures = append(m.captures, Capture{
		Method:      r.Method,
		Path:        r.URL.Path,
		Headers:     r.Header.Clone(),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		Timestamp:   time.Now(),
	})

	key := r.Method + ":" + r.URL.Path
	handler, exists := m.handlers[key]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	// Default: echo a created message
	ReplyMessage(w, "1", channelFromPath(r.URL.Path), "")
}

// OnMethod registers a handler for a specific HTTP method and path.
func (m *MockAPIServer) OnMethod(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+":"+path] = handler
}

// OnMessages registers a handler for POSTs to a channel's messages endpoint.
//
//	server.OnMessages(testutil.TestChannelID, func(w http.ResponseWriter, r *http.Request) {
//	    testutil.ReplyServerError(w, 503)
//	})
func (m *MockAPIServer) OnMessages(channelID string, handler http.HandlerFunc) {
	m.OnMethod(http.MethodPost, MessagesPath(channelID), handler)
}

// Captures returns all captured requests.
func (m *MockAPIServer) Captures() []Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Capture{}, m.captures...)
}

// LastCapture returns the most recent captured request.
func (m *MockAPIServer) LastCapture() *Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captures) == 0 {
		return nil
	}
	return &m.captures[len(m.captures)-1]
}

// CaptureAt returns the capture at the given index.
func (m *MockAPIServer) CaptureAt(index int) *Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.captures) {
		return nil
	}
	return &m.captures[index]
}

// CaptureCount returns the total number of captured requests.
func (m *MockAPIServer) CaptureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

// ResetCaptures clears only captures, keeping handlers.
func (m *MockAPIServer) ResetCaptures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = m.captures[:0]
}

// TimeBetweenCaptures returns the duration between two captures.
// Useful for rate-limit testing.
func (m *MockAPIServer) TimeBetweenCaptures(i, j int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || j < 0 || i >= len(m.captures) || j >= len(m.captures) {
		return 0
	}
	return m.captures[j].Timestamp.Sub(m.captures[i].Timestamp)
}

// BaseURL returns the server's base URL.
// Use this as the API base URL when creating clients.
func (m *MockAPIServer) BaseURL() string {
	return m.Server.URL
}

// MessagesPath returns the request path for posting to a channel.
func MessagesPath(channelID string) string {
	return fmt.Sprintf("/api/v%d/channels/%s/messages", TestAPIVersion, channelID)
}

// Sequence serves the handlers in order, one per request.
// The last handler answers every request past the end.
func Sequence(handlers ...http.HandlerFunc) http.HandlerFunc {
	var n atomic.Int64
	return func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1) - 1)
		if i >= len(handlers) {
			i = len(handlers) - 1
		}
		handlers[i](w, r)
	}
}

func channelFromPath(path string) string {
	var version int
	var channelID string
	if _, err := fmt.Sscanf(path, "/api/v%d/channels/%s", &version, &channelID); err != nil {
		return ""
	}
	for i := 0; i < len(channelID); i++ {
		if channelID[i] == '/' {
			return channelID[:i]
		}
	}
	return channelID
}
