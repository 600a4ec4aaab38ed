// Package testutil provides a mock Shopify Admin GraphQL upstream for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/query"
)

// DefaultToken is the access token the mock accepts unless changed.
const DefaultToken = "shpat_test_token"

// MockResponse defines the behavior for one mock upstream response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Request is a request the mock received.
type Request struct {
	Path      string
	Token     string
	Query     string
	Operation string
}

// MockShopify is a configurable mock Admin API server. Every document is
// parsed and validated against the embedded schema subset; invalid documents
// get a GraphQL errors response as upstream would send.
type MockShopify struct {
	server *httptest.Server
	schema *ast.Schema

	mu        sync.Mutex
	token     string
	responses map[string][]MockResponse
	fallback  []MockResponse
	requests  []Request
}

// NewMockShopify creates and starts a mock upstream.
func NewMockShopify() *MockShopify {
	schema, err := query.Schema()
	if err != nil {
		panic(err)
	}

	m := &MockShopify{
		schema:    schema,
		token:     DefaultToken,
		responses: make(map[string][]MockResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL, usable as client BaseURL.
func (m *MockShopify) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockShopify) Close() {
	m.server.Close()
}

// SetToken changes the accepted access token.
func (m *MockShopify) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Respond queues responses for an operation name. Responses are served in
// order; the last one repeats. The operation "*" matches every operation
// without its own queue.
func (m *MockShopify) Respond(operation string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if operation == "*" {
		m.fallback = append(m.fallback, responses...)
		return
	}
	m.responses[operation] = append(m.responses[operation], responses...)
}

// Requests returns a copy of the received requests.
func (m *MockShopify) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockShopify) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears queued responses and recorded requests.
func (m *MockShopify) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[string][]MockResponse)
	m.fallback = nil
	m.requests = nil
}

func (m *MockShopify) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/graphql.json") {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Query string `json:"query"`
	}
	raw, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		writeResponse(w, NewStatusResponse(http.StatusBadRequest))
		return
	}

	req := Request{
		Path:  r.URL.Path,
		Token: r.Header.Get("X-Shopify-Access-Token"),
		Query: body.Query,
	}

	doc, errs := gqlparser.LoadQuery(m.schema, body.Query)
	if doc != nil && len(doc.Operations) > 0 {
		req.Operation = doc.Operations[0].Name
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	token := m.token
	resp, ok := m.next(req.Operation)
	m.mu.Unlock()

	switch {
	case req.Token != token:
		writeResponse(w, NewStatusResponse(http.StatusUnauthorized))
	case len(errs) > 0:
		payload, _ := json.Marshal(errs)
		writeResponse(w, MockResponse{
			StatusCode: http.StatusOK,
			Body:       fmt.Sprintf(`{"errors":%s}`, payload),
		})
	case ok:
		writeResponse(w, resp)
	default:
		writeResponse(w, NewDataResponse(`{}`))
	}
}

// next pops the queued response for operation. Callers hold m.mu.
func (m *MockShopify) next(operation string) (MockResponse, bool) {
	pop := func(queue []MockResponse) (MockResponse, []MockResponse) {
		if len(queue) == 1 {
			return queue[0], queue
		}
		return queue[0], queue[1:]
	}

	if queue := m.responses[operation]; len(queue) > 0 {
		var resp MockResponse
		resp, m.responses[operation] = pop(queue)
		return resp, true
	}
	if len(m.fallback) > 0 {
		var resp MockResponse
		resp, m.fallback = pop(m.fallback)
		return resp, true
	}
	return MockResponse{}, false
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// costExtensions renders an extensions.cost block.
func costExtensions(actual, available float64) string {
	return fmt.Sprintf(`{"cost":{"requestedQueryCost":%g,"actualQueryCost":%g,"throttleStatus":{"maximumAvailable":2000.0,"currentlyAvailable":%g,"restoreRate":100.0}}}`,
		actual, actual, available)
}

// NewDataResponse creates a 200 response with data and a healthy cost block.
func NewDataResponse(data string) MockResponse {
	return NewCostedResponse(data, 2, 1998)
}

// NewCostedResponse creates a 200 response reporting the given cost and
// remaining bucket points.
func NewCostedResponse(data string, actual, available float64) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":%s,"extensions":%s}`, data, costExtensions(actual, available)),
	}
}

// NewGraphQLErrorResponse creates a 200 response carrying an errors array.
func NewGraphQLErrorResponse(message string) MockResponse {
	payload, _ := json.Marshal([]map[string]any{{"message": message, "locations": []map[string]int{{"line": 1, "column": 1}}}})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"errors":%s}`, payload),
	}
}

// NewThrottledResponse creates the THROTTLED response upstream sends when the
// cost bucket is empty.
func NewThrottledResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: fmt.Sprintf(`{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}],"extensions":%s}`,
			costExtensions(0, 0)),
	}
}

// NewStatusResponse creates an error status response.
func NewStatusResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"errors":%q}`, http.StatusText(status)),
	}
}
