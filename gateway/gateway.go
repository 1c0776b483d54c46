// Package gateway composes the RPC-backed and stateless providers, the tool
// execution engine, and the session table behind one entry point. Channels
// hand incoming messages to ProcessMessage; everything else is settings and
// lifecycle plumbing around it.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/observability"
	"github.com/tailored-agentic-units/gateway/security"
	"github.com/tailored-agentic-units/gateway/session"
	"github.com/tailored-agentic-units/gateway/tools"
)

// Option configures a Gateway after construction.
type Option func(*Gateway)

// WithObserver sets the observability sink for gateway events.
func WithObserver(o observability.Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// WithSettingsStore overrides the file-backed settings store.
func WithSettingsStore(store SettingsStore) Option {
	return func(g *Gateway) { g.store = store }
}

// Gateway is the orchestrator: it owns the session table, the per-channel
// confirmation queues, and the durable settings, and it is the only code
// path that drives a provider's stream.
type Gateway struct {
	cfg       Config
	providers *agent.Registry
	toolReg   *tools.Registry
	engine    *security.Engine
	sessions  *session.Manager
	store     SettingsStore
	observer  observability.Observer

	mu       sync.Mutex
	settings Settings
	queues   map[session.Key]*security.Queue
}

// New builds a Gateway over the given provider and tool registries. Durable
// settings are loaded from the store when present; otherwise the config
// supplies the initial selection.
func New(cfg Config, providers *agent.Registry, toolReg *tools.Registry, opts ...Option) (*Gateway, error) {
	if providers == nil {
		return nil, fmt.Errorf("gateway: nil provider registry")
	}

	engine, err := security.NewEngine(cfg.Security, toolReg)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g := &Gateway{
		cfg:       cfg,
		providers: providers,
		toolReg:   toolReg,
		engine:    engine,
		sessions:  session.NewManager(),
		observer:  observability.NoOpObserver{},
		queues:    make(map[session.Key]*security.Queue),
		settings: Settings{
			SecurityMode:    engine.Mode(),
			Provider:        cfg.Provider,
			Model:           cfg.Model,
			ReasoningEffort: cfg.Effort,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		path := cfg.SettingsPath
		if path == "" {
			path = defaultSettingsFile
		}
		g.store = NewFileSettings(path)
	}

	if saved, ok, err := g.store.Load(); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	} else if ok {
		if saved.SecurityMode != security.ModeSafe && saved.SecurityMode != security.ModeSpicy {
			saved.SecurityMode = security.ModeSafe
		}
		g.settings = saved
		engine.SetMode(saved.SecurityMode)
		engine.SetMaxObedience(saved.SpicyMaxObedienceEnabled)
	}

	return g, nil
}

// Settings returns a snapshot of the current durable settings.
func (g *Gateway) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// ProcessMessage appends the incoming message to the channel's session,
// drives the active provider's stream, fans the chunks out to the channel
// and the event stream, and appends the final assistant message.
func (g *Gateway) ProcessMessage(ctx context.Context, ch Channel, in Incoming) error {
	key := channelKey(ch)
	g.emit(key, EventMessageReceived, observability.LevelInfo, map[string]any{
		"length":      len(in.Text),
		"attachments": len(in.Attachments),
	})

	sess := g.sessions.Get(key)
	userMsg := protocol.NewMessage(protocol.RoleUser, in.Text)
	userMsg.Attachments = in.Attachments
	sess.AddMessage(userMsg)

	g.mu.Lock()
	settings := g.settings
	g.mu.Unlock()

	provider, err := g.providers.Get(ctx, settings.Provider)
	if err != nil {
		return err
	}

	stream, err := provider.Stream(ctx, agent.StreamRequest{
		Messages:        sess.Messages(),
		Tools:           g.toolDefinitions(),
		Model:           settings.Model,
		ReasoningEffort: settings.ReasoningEffort,
		SystemPrompt:    g.cfg.SystemPrompt,
		Sandbox:         g.sandboxPolicy(),
		Confirm:         g.queueFor(ch),
	})
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	var full strings.Builder
	var streamErr error
	tee := func(yield func(string, error) bool) {
		for chunk, err := range stream {
			if err != nil {
				streamErr = err
				yield("", err)
				return
			}
			full.WriteString(chunk)
			g.emit(key, EventStreamChunk, observability.LevelVerbose, map[string]any{
				"length": len(chunk),
			})
			if !yield(chunk, nil) {
				return
			}
		}
	}

	if err := ch.SendStream(ctx, tee); err != nil {
		return fmt.Errorf("send stream: %w", err)
	}
	if streamErr != nil {
		return streamErr
	}

	g.emit(key, EventStreamEnd, observability.LevelInfo, map[string]any{
		"length": full.Len(),
	})
	sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, full.String()))
	return nil
}

// ExecuteTool runs one tool call through the security engine on behalf of a
// channel. Confirmation prompts join the channel's FIFO queue. Policy
// rejections come back as failed results, not as errors.
func (g *Gateway) ExecuteTool(ctx context.Context, ch Channel, call protocol.ToolCall) (tools.Result, error) {
	key := channelKey(ch)
	g.emit(key, EventToolStarted, observability.LevelInfo, map[string]any{
		"tool": call.Name,
	})

	result, err := g.engine.Execute(ctx, call, g.queueFor(ch))
	if err != nil && security.IsRejection(err) {
		result = tools.Result{Content: err.Error(), IsError: true}
		err = nil
	}

	data := map[string]any{"tool": call.Name, "is_error": result.IsError}
	level := observability.LevelInfo
	if err != nil {
		data["error"] = err.Error()
		level = observability.LevelWarning
	}
	g.emit(key, EventToolFinished, level, data)
	return result, err
}

// SetSecurityMode switches the engine's mode and persists the change. On a
// failed durable write the previous mode is restored and the error
// re-raised.
func (g *Gateway) SetSecurityMode(mode security.Mode) error {
	if mode != security.ModeSafe && mode != security.ModeSpicy {
		return fmt.Errorf("unknown security mode %q", mode)
	}

	g.mu.Lock()
	prev := g.settings
	g.settings.SecurityMode = mode
	g.settings.SpicyModeEnabled = mode == security.ModeSpicy
	next := g.settings
	g.mu.Unlock()

	g.engine.SetMode(mode)

	if err := g.store.Save(next); err != nil {
		g.mu.Lock()
		g.settings = prev
		g.mu.Unlock()
		g.engine.SetMode(prev.SecurityMode)
		return err
	}

	g.emit(session.Key{}, EventModeChanged, observability.LevelInfo, map[string]any{
		"mode": string(mode),
	})
	return nil
}

// SetSpicyModeEnabled toggles spicy mode as the active posture, with the
// same rollback-on-persistence-failure contract as SetSecurityMode.
func (g *Gateway) SetSpicyModeEnabled(enabled bool) error {
	mode := security.ModeSafe
	if enabled {
		mode = security.ModeSpicy
	}
	return g.SetSecurityMode(mode)
}

// SetSpicyMaxObedienceEnabled toggles the confirmation-skip flag. The flag
// only has meaning while in spicy mode; it is persisted either way.
func (g *Gateway) SetSpicyMaxObedienceEnabled(enabled bool) error {
	g.mu.Lock()
	prev := g.settings
	g.settings.SpicyMaxObedienceEnabled = enabled
	next := g.settings
	g.mu.Unlock()

	g.engine.SetMaxObedience(enabled)

	if err := g.store.Save(next); err != nil {
		g.mu.Lock()
		g.settings = prev
		g.mu.Unlock()
		g.engine.SetMaxObedience(prev.SpicyMaxObedienceEnabled)
		return err
	}

	g.emit(session.Key{}, EventModeChanged, observability.LevelInfo, map[string]any{
		"max_obedience": enabled,
	})
	return nil
}

// SetLLMSelection switches the active provider, model, and reasoning
// effort, persisting with rollback on failure. The provider must be
// registered.
func (g *Gateway) SetLLMSelection(provider, model, effort string) error {
	registered := false
	for _, name := range g.providers.List() {
		if name == provider {
			registered = true
			break
		}
	}
	if !registered {
		return fmt.Errorf("%w: %s", agent.ErrProviderNotFound, provider)
	}

	g.mu.Lock()
	prev := g.settings
	g.settings.Provider = provider
	g.settings.Model = model
	g.settings.ReasoningEffort = effort
	next := g.settings
	g.mu.Unlock()

	if err := g.store.Save(next); err != nil {
		g.mu.Lock()
		g.settings = prev
		g.mu.Unlock()
		return err
	}

	g.emit(session.Key{}, EventSelectionChanged, observability.LevelInfo, map[string]any{
		"provider": provider,
		"model":    model,
		"effort":   effort,
	})
	return nil
}

// ListAvailableModels returns the named provider's model catalog.
func (g *Gateway) ListAvailableModels(ctx context.Context, provider string) ([]agent.ModelInfo, error) {
	p, err := g.providers.Get(ctx, provider)
	if err != nil {
		return nil, err
	}
	return p.Models(ctx)
}

// ClearSession drops one session's in-memory history. Reports whether a
// session existed.
func (g *Gateway) ClearSession(key session.Key) bool {
	cleared := g.sessions.Clear(key)
	if cleared {
		g.emit(key, EventSessionCleared, observability.LevelInfo, nil)
	}
	return cleared
}

// ListSessions summarizes the live sessions.
func (g *Gateway) ListSessions() []session.Info {
	return g.sessions.List()
}

// DisconnectChannel resolves every queued and active confirmation for the
// channel to cancel and drops its queue.
func (g *Gateway) DisconnectChannel(key session.Key) {
	g.mu.Lock()
	queue := g.queues[key]
	delete(g.queues, key)
	g.mu.Unlock()

	if queue != nil {
		queue.Disconnect()
	}
	g.emit(key, EventChannelGone, observability.LevelInfo, nil)
}

// queueFor returns the channel's confirmation queue, creating it on first
// use. The queue serializes prompts so the surface shows one at a time.
func (g *Gateway) queueFor(ch Channel) *security.Queue {
	key := channelKey(ch)

	g.mu.Lock()
	defer g.mu.Unlock()
	if q, ok := g.queues[key]; ok {
		return q
	}
	q := security.NewQueue(ch)
	g.queues[key] = q
	return q
}

// sandboxPolicy derives the backend-facing confinement from the active
// mode: safe limits writable roots to the workspace and state directories
// with no network, spicy lifts both.
func (g *Gateway) sandboxPolicy() agent.SandboxPolicy {
	mode := g.engine.Mode()
	if mode == security.ModeSpicy {
		return agent.SandboxPolicy{Mode: string(mode), NetworkAccess: true}
	}
	return agent.SandboxPolicy{
		Mode:          string(mode),
		WritableRoots: []string{g.engine.Sandbox().Root(), g.engine.Sandbox().StateDir()},
	}
}

func (g *Gateway) toolDefinitions() []protocol.Tool {
	if g.toolReg == nil {
		return nil
	}
	return g.toolReg.List()
}

func channelKey(ch Channel) session.Key {
	return session.Key{Channel: ch.Kind(), ChatID: ch.ChatID()}
}

func (g *Gateway) emit(key session.Key, typ observability.EventType, level observability.Level, data map[string]any) {
	channel := ""
	if key != (session.Key{}) {
		channel = key.String()
	}
	g.observer.OnEvent(context.Background(), observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "gateway",
		Channel:   channel,
		Data:      data,
	})
}
