// Package appserver adapts the generic provider contract onto the agent
// backend subprocess's thread/turn protocol. It owns login, the model
// catalog, turn streaming with delta reconciliation, attachment encoding
// with a base64 fallback, and forwarding of inbound approval requests to
// the caller's confirmation callback.
package appserver

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/observability"
	"github.com/tailored-agentic-units/gateway/rpc"
)

// Observability events emitted by the adapter.
const (
	EventTurnStarted      observability.EventType = "appserver.turn.started"
	EventTurnCompleted    observability.EventType = "appserver.turn.completed"
	EventTurnFailed       observability.EventType = "appserver.turn.failed"
	EventAttachmentRetry  observability.EventType = "appserver.attachment.retry"
	EventApprovalReceived observability.EventType = "appserver.approval.received"
	EventEventDropped     observability.EventType = "appserver.event.dropped"
)

const defaultLoginTimeout = 5 * time.Minute

// Conn is the slice of the RPC client the adapter needs. Satisfied by
// *rpc.Client; tests substitute a scripted fake.
type Conn interface {
	Call(ctx context.Context, method string, params, result any) error
	Notify(method string, params any) error
	Subscribe(method string, fn rpc.NotificationHandler)
	HandleRequests(fn rpc.RequestHandler)
}

// URLOpener opens a browser (or equivalent) at the given URL during login.
type URLOpener interface {
	OpenURL(url string) error
}

// URLOpenerFunc adapts a function to the URLOpener interface.
type URLOpenerFunc func(url string) error

func (f URLOpenerFunc) OpenURL(url string) error { return f(url) }

// Option configures a Provider after construction.
type Option func(*Provider)

// WithObserver sets the observability sink for adapter events.
func WithObserver(o observability.Observer) Option {
	return func(p *Provider) { p.observer = o }
}

// WithURLOpener sets the capability used to open the login URL.
func WithURLOpener(opener URLOpener) Option {
	return func(p *Provider) { p.opener = opener }
}

// WithLoginTimeout bounds the wait for the login-completed notification.
func WithLoginTimeout(d time.Duration) Option {
	return func(p *Provider) { p.loginTimeout = d }
}

// WithPinnedModel overrides the catalog entry the adapter always offers
// first.
func WithPinnedModel(m agent.ModelInfo) Option {
	return func(p *Provider) { p.pinned = m }
}

// Provider is the RPC-backed conversation backend. One Provider owns one
// subprocess connection and at most one in-flight turn at a time.
type Provider struct {
	conn         Conn
	observer     observability.Observer
	opener       URLOpener
	loginTimeout time.Duration
	pinned       agent.ModelInfo

	mu        sync.Mutex
	threadID  string
	active    *turnCollector
	loginWait chan loginCompletedParams
}

// New wraps an established connection. The adapter subscribes to the turn
// and login notifications and registers itself as the inbound request
// handler, so it must be the connection's only consumer of those.
func New(conn Conn, opts ...Option) *Provider {
	p := &Provider{
		conn:         conn,
		observer:     observability.NoOpObserver{},
		loginTimeout: defaultLoginTimeout,
		pinned: agent.ModelInfo{
			ID:               "agent-default",
			DisplayName:      "Agent Default",
			Default:          true,
			ReasoningEfforts: []string{"low", "medium", "high"},
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	conn.Subscribe(methodItemDelta, p.onItemDelta)
	conn.Subscribe(methodItemCompleted, p.onItemCompleted)
	conn.Subscribe(methodTurnCompleted, p.onTurnCompleted)
	conn.Subscribe(methodTurnFailed, p.onTurnFailed)
	conn.Subscribe(methodLoginCompleted, p.onLoginCompleted)
	conn.HandleRequests(p.handleRequest)

	return p
}

// Name returns the provider's registry name.
func (p *Provider) Name() string { return "appserver" }

// Close releases the underlying connection when the adapter owns one that
// is closable.
func (p *Provider) Close() error {
	if closer, ok := p.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (p *Provider) emit(typ observability.EventType, level observability.Level, data map[string]any) {
	p.observer.OnEvent(context.Background(), observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "appserver",
		Data:      data,
	})
}

// collector returns the active turn collector, or nil when no turn is in
// flight.
func (p *Provider) collector() *turnCollector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Provider) dropEvent(method string, params json.RawMessage) {
	p.emit(EventEventDropped, observability.LevelVerbose, map[string]any{
		"method": method,
		"params": string(params),
	})
}
