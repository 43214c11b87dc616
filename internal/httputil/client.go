// Package httputil provides the HTTP client seam shared by the imagery
// provider and the upload API client, plus the backoff policy both use
// against rate-limited endpoints.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Doer is the request execution seam. *http.Client satisfies it in
// production; MockClient replaces it in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockClient records requests and replays canned responses in order.
type MockClient struct {
	mu        sync.Mutex
	DoFunc    func(req *http.Request) (*http.Response, error)
	Requests  []*http.Request
	responses []mockResponse
	index     int
}

type mockResponse struct {
	status int
	body   string
	header http.Header
	err    error
}

// NewMockClient returns an empty mock. With no queued responses it
// answers 200 with an empty body.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AddResponse queues a response.
func (m *MockClient) AddResponse(status int, body string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body, header: make(http.Header)})
	return m
}

// AddError queues a transport-level error.
func (m *MockClient) AddError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

// Do records the request and returns the next queued response.
func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}

	if m.index < len(m.responses) {
		r := m.responses[m.index]
		m.index++
		if r.err != nil {
			return nil, r.err
		}
		return &http.Response{
			StatusCode: r.status,
			Body:       io.NopCloser(bytes.NewBufferString(r.body)),
			Header:     r.header,
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of requests executed so far.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
