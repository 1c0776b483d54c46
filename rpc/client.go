// Package rpc implements the bidirectional line-delimited JSON protocol the
// gateway speaks to an agent backend subprocess. One multiplexer owns both
// correlation directions behind a single read loop: outgoing requests pend in
// a table keyed by id, and inbound requests from the subprocess (approval
// round-trips) are dispatched to a registered handler whose return value is
// framed back as a response carrying the original id.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/gateway/observability"
)

const (
	// maxFrameSize bounds one wire line. Inline base64 image payloads make
	// frames large, so the limit is generous.
	maxFrameSize = 16 << 20

	defaultCallTimeout = 60 * time.Second
)

// Observability events emitted by the client.
const (
	EventFrameInvalid      observability.EventType = "rpc.frame.invalid"
	EventResponseUnmatched observability.EventType = "rpc.response.unmatched"
	EventRequestFailed     observability.EventType = "rpc.request.failed"
	EventStreamTerminated  observability.EventType = "rpc.stream.terminated"
)

// NotificationHandler receives the params of an unsolicited notification.
type NotificationHandler func(params json.RawMessage)

// RequestHandler answers inbound requests originated by the subprocess.
// The returned value is marshalled as the response result; a returned error
// becomes a response error object.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Config holds subprocess and call parameters for a Client.
type Config struct {
	Command     string        `json:"command"`
	Args        []string      `json:"args,omitempty"`
	Env         []string      `json:"env,omitempty"`
	CallTimeout time.Duration `json:"call_timeout,omitempty"`
}

// Option configures a Client after construction.
type Option func(*Client)

// WithObserver sets the observability sink for protocol-level events.
func WithObserver(o observability.Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTransport overrides the default subprocess transport. Used by tests
// and by callers that already own the byte stream.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method string
	ch     chan callResult
}

// Client is a bidirectional RPC endpoint over one subprocess transport.
// Safe for concurrent use; no lock is held across a suspension point.
type Client struct {
	cfg      Config
	observer observability.Observer

	transport Transport
	writeMu   sync.Mutex

	mu         sync.Mutex
	pending    map[string]*pendingCall
	subs       map[string][]NotificationHandler
	reqHandler RequestHandler
	nextID     int64
	started    bool
	closed     bool

	// lifetime is cancelled on Close so inbound request handlers that are
	// suspended on a human decision unwind.
	lifetime context.Context
	cancel   context.CancelFunc
}

// NewClient creates a Client for the given subprocess config. The subprocess
// is not spawned until Start.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		observer: observability.NoOpObserver{},
		pending:  make(map[string]*pendingCall),
		subs:     make(map[string][]NotificationHandler),
		lifetime: ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start spawns the subprocess (unless a transport was injected), begins the
// read loop, and performs the initialization handshake: an initialize request
// followed by an initialized notification. No other call is permitted first.
// A failed handshake disposes the client, since the read loop is already
// consuming the transport; retrying requires a fresh client.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("rpc: client already started")
	}
	if c.transport == nil {
		transport, err := newStdioTransport(c.cfg.Command, c.cfg.Args, c.cfg.Env)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("rpc: spawn backend: %w", err)
		}
		c.transport = transport
	}
	c.mu.Unlock()

	go c.readLoop()

	params := map[string]any{
		"clientInfo": map[string]any{"name": "gateway", "version": "dev"},
	}
	if err := c.call(ctx, "initialize", params, nil); err != nil {
		_ = c.Close()
		return fmt.Errorf("rpc: initialize: %w", err)
	}
	if err := c.writeFrame(frame{Method: "initialized"}); err != nil {
		_ = c.Close()
		return fmt.Errorf("rpc: initialized notification: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Call sends a framed request with a fresh id and suspends until the matching
// response arrives, the configured window elapses (ErrTimeout), the context
// is done, or the client is disposed (ErrCancelled). A response error object
// surfaces as *RemoteError. If result is non-nil the response result is
// unmarshalled into it.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.mu.Unlock()

	return c.call(ctx, method, params, result)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	key := fmt.Sprintf("n:%d", id)
	pc := &pendingCall{method: method, ch: make(chan callResult, 1)}
	c.pending[key] = pc
	c.mu.Unlock()

	idRaw, _ := json.Marshal(id)
	if err := c.writeFrame(frame{ID: idRaw, Method: method, Params: raw}); err != nil {
		c.removePending(key)
		return err
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-pc.ch:
		if res.err != nil {
			return res.err
		}
		if result == nil {
			return nil
		}
		if len(res.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.result, result); err != nil {
			return fmt.Errorf("rpc: decode %s result: %w", method, err)
		}
		return nil
	case <-timer.C:
		c.removePending(key)
		return fmt.Errorf("%w: %s", ErrTimeout, method)
	case <-ctx.Done():
		c.removePending(key)
		return ctx.Err()
	case <-c.lifetime.Done():
		return ErrCancelled
	}
}

// Notify sends a fire-and-forget notification: no id, no response expected.
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.mu.Unlock()

	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.writeFrame(frame{Method: method, Params: raw})
}

// Subscribe registers a handler for notifications with the given method.
// Handlers run synchronously on the read loop, so delivery order matches
// arrival order; they must not block.
func (c *Client) Subscribe(method string, fn NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[method] = append(c.subs[method], fn)
}

// HandleRequests registers the handler for inbound requests from the
// subprocess. Handlers run on their own goroutine and may suspend (e.g. on a
// human approval); the wait ends when the client is disposed.
func (c *Client) HandleRequests(fn RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqHandler = fn
}

// Close terminates the subprocess and fails all outstanding pending requests
// with ErrCancelled. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	transport := c.transport
	c.mu.Unlock()

	c.cancel()
	c.failPending(ErrCancelled)

	if transport != nil {
		return transport.Close()
	}
	return nil
}

func (c *Client) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.transport.Write(data); err != nil {
		return fmt.Errorf("rpc: write frame: %w", err)
	}
	return nil
}

func (c *Client) removePending(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.ch <- callResult{err: err}
	}
}

// readLoop decodes frames line by line. Partial reads are buffered until a
// full line is available; malformed lines are logged and skipped so one bad
// frame never halts the stream.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.transport)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			perr := &ProtocolError{Line: string(line), Err: err}
			c.observer.OnEvent(c.lifetime, observability.Event{
				Type:      EventFrameInvalid,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "rpc.readLoop",
				Data:      map[string]any{"error": perr.Error()},
			})
			continue
		}

		c.dispatch(f)
	}

	// A scan error (oversized frame, broken transport) is the loop's real
	// cause of death; a nil error is plain EOF.
	if err := scanner.Err(); err != nil {
		c.observer.OnEvent(c.lifetime, observability.Event{
			Type:      EventStreamTerminated,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "rpc.readLoop",
			Data:      map[string]any{"error": err.Error()},
		})
	}

	// Transport gone: everything still pending resolves to cancelled.
	c.failPending(ErrCancelled)
	c.cancel()
}

func (c *Client) dispatch(f frame) {
	switch {
	case f.Method == "" && f.ID != nil:
		c.dispatchResponse(f)
	case f.Method != "" && f.ID == nil:
		c.dispatchNotification(f)
	case f.Method != "" && f.ID != nil:
		go c.dispatchRequest(f)
	default:
		c.observer.OnEvent(c.lifetime, observability.Event{
			Type:      EventFrameInvalid,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "rpc.dispatch",
			Data:      map[string]any{"error": "frame has neither id nor method"},
		})
	}
}

// dispatchResponse matches strictly by id, never by arrival order, so
// out-of-order responses from the subprocess resolve the right caller.
func (c *Client) dispatchResponse(f frame) {
	key, err := idKey(f.ID)
	if err != nil {
		c.observer.OnEvent(c.lifetime, observability.Event{
			Type:      EventFrameInvalid,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "rpc.dispatchResponse",
			Data:      map[string]any{"error": err.Error()},
		})
		return
	}

	c.mu.Lock()
	pc, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if !ok {
		c.observer.OnEvent(c.lifetime, observability.Event{
			Type:      EventResponseUnmatched,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "rpc.dispatchResponse",
			Data:      map[string]any{"id": string(f.ID)},
		})
		return
	}

	if f.Error != nil {
		pc.ch <- callResult{err: &RemoteError{Code: f.Error.Code, Message: f.Error.Message}}
		return
	}
	pc.ch <- callResult{result: f.Result}
}

func (c *Client) dispatchNotification(f frame) {
	c.mu.Lock()
	handlers := make([]NotificationHandler, len(c.subs[f.Method]))
	copy(handlers, c.subs[f.Method])
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(f.Params)
	}
}

// dispatchRequest answers an inbound request from the subprocess. The
// response echoes the original id bytes so string ids stay strings.
func (c *Client) dispatchRequest(f frame) {
	c.mu.Lock()
	handler := c.reqHandler
	c.mu.Unlock()

	if handler == nil {
		c.respondError(f.ID, -32601, fmt.Sprintf("no handler for %s", f.Method))
		return
	}

	result, err := handler(c.lifetime, f.Method, f.Params)
	if err != nil {
		c.observer.OnEvent(c.lifetime, observability.Event{
			Type:      EventRequestFailed,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "rpc.dispatchRequest",
			Data:      map[string]any{"method": f.Method, "error": err.Error()},
		})
		c.respondError(f.ID, -32603, err.Error())
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.respondError(f.ID, -32603, fmt.Sprintf("marshal result: %v", err))
		return
	}
	_ = c.writeFrame(frame{ID: f.ID, Result: raw})
}

func (c *Client) respondError(id json.RawMessage, code int, message string) {
	_ = c.writeFrame(frame{ID: id, Error: &wireError{Code: code, Message: message}})
}
