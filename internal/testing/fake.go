// Package testing provides test helpers for kepsync packages: an in-memory
// REST transport and goroutine-safe assertion collection.
package testing

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// =============================================================================
// Fake Transport
// =============================================================================

// Call is a recorded request.
type Call struct {
	Method string
	Path   string
	Body   []byte
}

// Response is a canned reply. A non-nil Err is returned instead of a status.
type Response struct {
	Status int
	Body   []byte
	Err    error
}

// HandlerFunc answers requests that no route matches. Returning false
// falls through to the default 404.
type HandlerFunc func(method, path string, body []byte) (Response, bool)

// FakeTransport is an in-memory transport keyed by method and path.
//
// Each route holds a queue of responses. Responses are consumed in order
// and the last one repeats. Unmatched requests get 404 with an empty body.
//
// FakeTransport is safe for concurrent use.
type FakeTransport struct {
	mu      sync.Mutex
	routes  map[string][]Response
	handler HandlerFunc
	calls   []Call
}

// NewFakeTransport creates an empty fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{routes: make(map[string][]Response)}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// On queues a response for method and path.
func (f *FakeTransport) On(method, path string, status int, body string) *FakeTransport {
	return f.queue(method, path, Response{Status: status, Body: []byte(body)})
}

// OnJSON queues a response whose body is v encoded as JSON.
func (f *FakeTransport) OnJSON(method, path string, status int, v any) *FakeTransport {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return f.queue(method, path, Response{Status: status, Body: data})
}

// OnError queues a transport error for method and path.
func (f *FakeTransport) OnError(method, path string, err error) *FakeTransport {
	return f.queue(method, path, Response{Err: err})
}

func (f *FakeTransport) queue(method, path string, r Response) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := routeKey(method, path)
	f.routes[key] = append(f.routes[key], r)
	return f
}

// Handle sets the fallback handler for unmatched requests.
func (f *FakeTransport) Handle(h HandlerFunc) *FakeTransport {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return f
}

// Do records the call and returns the next queued response.
func (f *FakeTransport) Do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	f.mu.Lock()
	var recorded []byte
	if body != nil {
		recorded = append([]byte(nil), body...)
	}
	f.calls = append(f.calls, Call{Method: method, Path: path, Body: recorded})

	key := routeKey(method, path)
	queue, ok := f.routes[key]
	handler := f.handler
	var r Response
	if ok && len(queue) > 0 {
		r = queue[0]
		if len(queue) > 1 {
			f.routes[key] = queue[1:]
		}
	}
	f.mu.Unlock()

	if !ok {
		var handled bool
		if handler != nil {
			r, handled = handler(method, path, recorded)
		}
		if !handled {
			r = Response{Status: http.StatusNotFound}
		}
	}

	if r.Err != nil {
		return 0, nil, r.Err
	}
	return r.Status, r.Body, nil
}

// Calls returns all recorded calls in order.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns recorded calls with the given method. An empty prefix
// matches every path.
func (f *FakeTransport) CallsTo(method, pathPrefix string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, pathPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls. Routes are kept.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}
