package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/gateway"
	"github.com/tailored-agentic-units/gateway/observability"
	"github.com/tailored-agentic-units/gateway/security"
	"github.com/tailored-agentic-units/gateway/session"
	"github.com/tailored-agentic-units/gateway/tools"
)

// fakeChannel records what the gateway sends and answers confirmations with
// a fixed decision.
type fakeChannel struct {
	kind     string
	chatID   string
	decision security.Decision

	sent    []string
	streams [][]string
	asked   int
}

func (c *fakeChannel) Kind() string   { return c.kind }
func (c *fakeChannel) ChatID() string { return c.chatID }

func (c *fakeChannel) Send(ctx context.Context, text string) error {
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) SendStream(ctx context.Context, stream agent.Stream) error {
	var chunks []string
	for chunk, err := range stream {
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk)
	}
	c.streams = append(c.streams, chunks)
	return nil
}

func (c *fakeChannel) RequestConfirmation(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error) {
	c.asked++
	if c.decision == "" {
		return security.DecisionCancel, nil
	}
	return c.decision, nil
}

// scriptedProvider yields a fixed set of chunks for every turn.
type scriptedProvider struct {
	name    string
	chunks  []string
	failure error

	lastReq agent.StreamRequest
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Models(ctx context.Context) ([]agent.ModelInfo, error) {
	return []agent.ModelInfo{{ID: "scripted-1", Default: true}}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req agent.StreamRequest) (agent.Stream, error) {
	p.lastReq = req
	if p.failure != nil {
		return nil, p.failure
	}
	return func(yield func(string, error) bool) {
		for _, chunk := range p.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}, nil
}

// failingStore rejects every save.
type failingStore struct {
	saves int
	err   error
}

func (s *failingStore) Save(gateway.Settings) error {
	s.saves++
	return s.err
}

func (s *failingStore) Load() (gateway.Settings, bool, error) {
	return gateway.Settings{}, false, nil
}

// memStore keeps the last saved settings in memory.
type memStore struct {
	saved []gateway.Settings
}

func (s *memStore) Save(set gateway.Settings) error {
	s.saved = append(s.saved, set)
	return nil
}

func (s *memStore) Load() (gateway.Settings, bool, error) {
	return gateway.Settings{}, false, nil
}

func testConfig(t *testing.T) gateway.Config {
	t.Helper()
	cfg := gateway.DefaultConfig()
	cfg.Security.WorkspaceRoot = t.TempDir()
	cfg.Security.StateDir = t.TempDir()
	cfg.Provider = "scripted"
	cfg.SettingsPath = filepath.Join(t.TempDir(), "settings.json")
	return cfg
}

func newTestGateway(t *testing.T, provider agent.Provider, opts ...gateway.Option) *gateway.Gateway {
	t.Helper()

	providers := agent.NewRegistry()
	if err := providers.Register("scripted", func(ctx context.Context) (agent.Provider, error) {
		return provider, nil
	}); err != nil {
		t.Fatalf("register provider: %v", err)
	}

	g, err := gateway.New(testConfig(t), providers, tools.NewRegistry(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

func TestGateway_ProcessMessageStreamsAndRecords(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", chunks: []string{"Hello", " there"}}
	recorder := observability.NewRecorder()
	g := newTestGateway(t, provider, gateway.WithObserver(recorder))

	ch := &fakeChannel{kind: "terminal", chatID: "chat-1"}
	err := g.ProcessMessage(context.Background(), ch, gateway.Incoming{Text: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if len(ch.streams) != 1 {
		t.Fatalf("channel received %d streams, want 1", len(ch.streams))
	}
	if got := strings.Join(ch.streams[0], ""); got != "Hello there" {
		t.Errorf("streamed %q, want %q", got, "Hello there")
	}

	// One session with the user and assistant messages.
	infos := g.ListSessions()
	if len(infos) != 1 {
		t.Fatalf("got %d sessions, want 1", len(infos))
	}
	if infos[0].Messages != 2 {
		t.Errorf("session has %d messages, want 2", infos[0].Messages)
	}

	// Event order: received, chunks, end.
	types := recorder.Types()
	wantOrder := []observability.EventType{
		gateway.EventMessageReceived,
		gateway.EventStreamChunk,
		gateway.EventStreamChunk,
		gateway.EventStreamEnd,
	}
	if len(types) != len(wantOrder) {
		t.Fatalf("got %d events (%v), want %d", len(types), types, len(wantOrder))
	}
	for i, want := range wantOrder {
		if types[i] != want {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want)
		}
	}
}

func TestGateway_ProcessMessageCarriesSelection(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", chunks: []string{"ok"}}
	g := newTestGateway(t, provider)

	if err := g.SetLLMSelection("scripted", "scripted-1", "high"); err != nil {
		t.Fatalf("SetLLMSelection failed: %v", err)
	}

	ch := &fakeChannel{kind: "terminal", chatID: "chat-1"}
	if err := g.ProcessMessage(context.Background(), ch, gateway.Incoming{Text: "hi"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if provider.lastReq.Model != "scripted-1" {
		t.Errorf("got model %q, want %q", provider.lastReq.Model, "scripted-1")
	}
	if provider.lastReq.ReasoningEffort != "high" {
		t.Errorf("got effort %q, want %q", provider.lastReq.ReasoningEffort, "high")
	}
	if provider.lastReq.Sandbox.Mode != string(security.ModeSafe) {
		t.Errorf("got sandbox mode %q, want safe", provider.lastReq.Sandbox.Mode)
	}
	if provider.lastReq.Confirm == nil {
		t.Error("stream request carries no confirmation callback")
	}
}

func TestGateway_ProcessMessageProviderFailure(t *testing.T) {
	boom := errors.New("backend offline")
	provider := &scriptedProvider{name: "scripted", failure: boom}
	g := newTestGateway(t, provider)

	ch := &fakeChannel{kind: "terminal", chatID: "chat-1"}
	err := g.ProcessMessage(context.Background(), ch, gateway.Incoming{Text: "hi"})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the provider failure", err)
	}

	// The user message is kept; no assistant message was appended.
	infos := g.ListSessions()
	if len(infos) != 1 || infos[0].Messages != 1 {
		t.Errorf("got sessions %+v, want one session with one message", infos)
	}
}

func TestGateway_SetSecurityModeRollback(t *testing.T) {
	provider := &scriptedProvider{name: "scripted"}
	store := &failingStore{err: errors.New("disk full")}
	g := newTestGateway(t, provider, gateway.WithSettingsStore(store))

	err := g.SetSecurityMode(security.ModeSpicy)
	if err == nil {
		t.Fatal("expected persistence error, got nil")
	}

	// In-memory state reverted to the prior mode.
	if got := g.Settings().SecurityMode; got != security.ModeSafe {
		t.Errorf("got mode %q after failed save, want safe", got)
	}
	if g.Settings().SpicyModeEnabled {
		t.Error("spicy flag set after failed save")
	}
}

func TestGateway_SetSpicyModeEnabledRollback(t *testing.T) {
	provider := &scriptedProvider{name: "scripted"}
	store := &failingStore{err: errors.New("disk full")}
	g := newTestGateway(t, provider, gateway.WithSettingsStore(store))

	if err := g.SetSpicyModeEnabled(true); err == nil {
		t.Fatal("expected persistence error, got nil")
	}
	if g.Settings().SpicyModeEnabled {
		t.Error("flag left enabled after failed save")
	}
	if got := g.Settings().SecurityMode; got != security.ModeSafe {
		t.Errorf("got mode %q after rollback, want safe", got)
	}
}

func TestGateway_SetSpicyMaxObedienceRollback(t *testing.T) {
	provider := &scriptedProvider{name: "scripted"}
	store := &failingStore{err: errors.New("disk full")}
	g := newTestGateway(t, provider, gateway.WithSettingsStore(store))

	if err := g.SetSpicyMaxObedienceEnabled(true); err == nil {
		t.Fatal("expected persistence error, got nil")
	}
	if g.Settings().SpicyMaxObedienceEnabled {
		t.Error("flag left enabled after failed save")
	}
}

func TestGateway_SetSecurityModePersists(t *testing.T) {
	provider := &scriptedProvider{name: "scripted"}
	store := &memStore{}
	g := newTestGateway(t, provider, gateway.WithSettingsStore(store))

	if err := g.SetSecurityMode(security.ModeSpicy); err != nil {
		t.Fatalf("SetSecurityMode failed: %v", err)
	}

	if got := g.Settings().SecurityMode; got != security.ModeSpicy {
		t.Errorf("got mode %q, want spicy", got)
	}
	if len(store.saved) != 1 || store.saved[0].SecurityMode != security.ModeSpicy {
		t.Errorf("store saved %+v, want one spicy snapshot", store.saved)
	}
}

func TestGateway_SetLLMSelectionUnknownProvider(t *testing.T) {
	provider := &scriptedProvider{name: "scripted"}
	store := &memStore{}
	g := newTestGateway(t, provider, gateway.WithSettingsStore(store))

	err := g.SetLLMSelection("nonexistent", "m", "")
	if !errors.Is(err, agent.ErrProviderNotFound) {
		t.Fatalf("got %v, want ErrProviderNotFound", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("store saved %d snapshots for a rejected selection, want 0", len(store.saved))
	}
}

func TestGateway_SetLLMSelectionRollback(t *testing.T) {
	provider := &scriptedProvider{name: "scripted"}
	store := &failingStore{err: errors.New("disk full")}
	g := newTestGateway(t, provider, gateway.WithSettingsStore(store))

	before := g.Settings()
	if err := g.SetLLMSelection("scripted", "scripted-1", "low"); err == nil {
		t.Fatal("expected persistence error, got nil")
	}
	if got := g.Settings(); got != before {
		t.Errorf("settings = %+v after failed save, want %+v", got, before)
	}
}

func TestGateway_ExecuteToolConfirmsThroughChannel(t *testing.T) {
	reg := tools.NewRegistry()
	err := reg.Register(protocol.Tool{
		Name:        "write_file",
		Description: "writes a file",
		Category:    protocol.CategoryFilesystem,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		RequiresConfirmation: true,
	}, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.Result{Content: "written"}, nil
	})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}

	providers := agent.NewRegistry()
	providers.Register("scripted", func(ctx context.Context) (agent.Provider, error) {
		return &scriptedProvider{name: "scripted"}, nil
	})

	cfg := testConfig(t)
	g, err := gateway.New(cfg, providers, reg, gateway.WithSettingsStore(&memStore{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ch := &fakeChannel{kind: "terminal", chatID: "chat-1", decision: security.DecisionAllow}
	result, err := g.ExecuteTool(context.Background(), ch, protocol.ToolCall{
		ID:        "call-1",
		Name:      "write_file",
		Arguments: fmt.Sprintf(`{"path":%q}`, "notes.txt"),
	})
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	if result.IsError {
		t.Errorf("got error result %q", result.Content)
	}
	if ch.asked != 1 {
		t.Errorf("channel asked %d times, want 1", ch.asked)
	}
}

func TestGateway_ExecuteToolPolicyRejectionIsFailedResult(t *testing.T) {
	reg := tools.NewRegistry()
	register := func(def protocol.Tool) {
		err := reg.Register(def, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
			return tools.Result{Content: "ran"}, nil
		})
		if err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	register(protocol.Tool{
		Name:        "read_file",
		Description: "reads a file",
		Category:    protocol.CategoryFilesystem,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
	})
	register(protocol.Tool{
		Name:        "exec_command",
		Description: "runs a shell command",
		Category:    protocol.CategoryShell,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
		},
	})

	providers := agent.NewRegistry()
	providers.Register("scripted", func(ctx context.Context) (agent.Provider, error) {
		return &scriptedProvider{name: "scripted"}, nil
	})

	g, err := gateway.New(testConfig(t), providers, reg, gateway.WithSettingsStore(&memStore{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ch := &fakeChannel{kind: "terminal", chatID: "chat-1"}

	tests := []struct {
		name string
		call protocol.ToolCall
	}{
		{
			name: "sandbox escape",
			call: protocol.ToolCall{ID: "call-1", Name: "read_file", Arguments: `{"path":"../../etc/passwd"}`},
		},
		{
			name: "disallowed binary",
			call: protocol.ToolCall{ID: "call-2", Name: "exec_command", Arguments: `{"command":"python3 run.py"}`},
		},
		{
			name: "managed file shell write",
			call: protocol.ToolCall{ID: "call-3", Name: "exec_command", Arguments: `{"command":"echo x > IDENTITY.md"}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := g.ExecuteTool(context.Background(), ch, tt.call)
			if err != nil {
				t.Fatalf("rejection surfaced as error: %v", err)
			}
			if !result.IsError {
				t.Errorf("got %+v, want a failed result", result)
			}
			if result.Content == "" {
				t.Error("failed result carries no reason")
			}
		})
	}
}

// confirmingProvider raises one approval mid-turn through the request's
// confirmation callback and records the decision.
type confirmingProvider struct {
	decisions chan security.Decision
}

func (p *confirmingProvider) Name() string { return "scripted" }

func (p *confirmingProvider) Models(ctx context.Context) ([]agent.ModelInfo, error) {
	return nil, nil
}

func (p *confirmingProvider) Stream(ctx context.Context, req agent.StreamRequest) (agent.Stream, error) {
	confirm := req.Confirm
	return func(yield func(string, error) bool) {
		d, _ := confirm.RequestConfirmation(ctx, security.ConfirmationRequest{
			ID: "c1", Prompt: "run it?",
		})
		p.decisions <- d
		yield("done", nil)
	}, nil
}

func TestGateway_DisconnectChannelCancelsQueued(t *testing.T) {
	provider := &confirmingProvider{decisions: make(chan security.Decision, 1)}
	g := newTestGateway(t, provider)

	release := make(chan struct{})
	ch := &blockingChannel{
		kind:      "terminal",
		chatID:    "chat-1",
		release:   release,
		presented: make(chan struct{}, 1),
	}

	done := make(chan error, 1)
	go func() {
		done <- g.ProcessMessage(context.Background(), ch, gateway.Incoming{Text: "hi"})
	}()

	// The confirmation is on screen; the user closes the surface instead
	// of answering.
	<-ch.presented
	g.DisconnectChannel(session.Key{Channel: "terminal", ChatID: "chat-1"})

	if d := <-provider.decisions; d != security.DecisionCancel {
		t.Errorf("got decision %q after disconnect, want cancel", d)
	}
	if err := <-done; err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	close(release)
}

// blockingChannel parks confirmation prompts until released, signalling
// each presentation.
type blockingChannel struct {
	kind      string
	chatID    string
	release   chan struct{}
	presented chan struct{}
}

func (c *blockingChannel) Kind() string   { return c.kind }
func (c *blockingChannel) ChatID() string { return c.chatID }

func (c *blockingChannel) Send(ctx context.Context, text string) error { return nil }

func (c *blockingChannel) SendStream(ctx context.Context, stream agent.Stream) error {
	for range stream {
	}
	return nil
}

func (c *blockingChannel) RequestConfirmation(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error) {
	if c.presented != nil {
		c.presented <- struct{}{}
	}
	select {
	case <-c.release:
		return security.DecisionAllow, nil
	case <-ctx.Done():
		return security.DecisionCancel, ctx.Err()
	}
}
