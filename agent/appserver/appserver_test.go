package appserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/gateway/rpc"
)

// recordedCall captures one outgoing request for later inspection. Params
// are kept as raw JSON so tests can decode whatever shape they expect.
type recordedCall struct {
	method string
	params json.RawMessage
}

// fakeConn is a scripted in-process stand-in for the RPC client. Tests
// install a respond function; notifications and inbound requests are
// injected through notify and request.
type fakeConn struct {
	mu      sync.Mutex
	calls   []recordedCall
	subs    map[string][]rpc.NotificationHandler
	handler rpc.RequestHandler

	// respond answers an outgoing call. Write the response through reply.
	respond func(method string, params json.RawMessage, reply func(any)) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: make(map[string][]rpc.NotificationHandler)}
}

func (f *fakeConn) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: method, params: raw})
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return fmt.Errorf("unscripted call %s", method)
	}
	reply := func(v any) {
		if result == nil {
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		if err := json.Unmarshal(data, result); err != nil {
			panic(err)
		}
	}
	return respond(method, raw, reply)
}

func (f *fakeConn) Notify(method string, params any) error { return nil }

func (f *fakeConn) Subscribe(method string, fn rpc.NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[method] = append(f.subs[method], fn)
}

func (f *fakeConn) HandleRequests(fn rpc.RequestHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

// notify delivers a notification to subscribers, the way the read loop
// would.
func (f *fakeConn) notify(t *testing.T, method string, params any) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Errorf("marshal %s params: %v", method, err)
		return
	}

	f.mu.Lock()
	handlers := make([]rpc.NotificationHandler, len(f.subs[method]))
	copy(handlers, f.subs[method])
	f.mu.Unlock()

	if len(handlers) == 0 {
		t.Errorf("no subscriber for %s", method)
		return
	}
	for _, fn := range handlers {
		fn(raw)
	}
}

// request delivers an inbound request to the registered handler.
func (f *fakeConn) request(t *testing.T, method string, params any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal %s params: %v", method, err)
	}

	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		t.Fatal("no request handler registered")
	}
	return handler(context.Background(), method, raw)
}

// callsFor returns the recorded calls with the given method.
func (f *fakeConn) callsFor(method string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}
