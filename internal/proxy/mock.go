// SPDX-License-Identifier: MIT

package proxy

import (
	"net/http"
	"sync"
)

// MockProxy records forwards and replays a canned response. Tests swap it in
// for LiveProxy.
type MockProxy struct {
	mu       sync.Mutex
	Status   int
	Headers  http.Header
	Body     []byte
	Forwards []MockForward
}

// MockForward is one recorded Forward invocation.
type MockForward struct {
	Method  string
	Options Options
	Body    []byte
}

// NewMockProxy creates a mock that answers 200 with an empty JSON object.
func NewMockProxy() *MockProxy {
	return &MockProxy{
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    []byte("{}"),
	}
}

// Forward records the call and writes the canned response plus CORS headers.
func (m *MockProxy) Forward(w http.ResponseWriter, r *http.Request, body []byte, opts Options) {
	m.mu.Lock()
	m.Forwards = append(m.Forwards, MockForward{Method: r.Method, Options: opts, Body: body})
	status := m.Status
	headers := m.Headers
	payload := m.Body
	m.mu.Unlock()

	for name, values := range headers {
		w.Header()[name] = values
	}
	for name, values := range opts.CORSHeaders {
		w.Header()[name] = values
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// Calls returns a snapshot of the recorded forwards.
func (m *MockProxy) Calls() []MockForward {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockForward, len(m.Forwards))
	copy(out, m.Forwards)
	return out
}
