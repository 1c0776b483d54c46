package appserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/observability"
	"github.com/tailored-agentic-units/gateway/rpc"
	"github.com/tailored-agentic-units/gateway/security"
)

type turnEventKind int

const (
	eventDelta turnEventKind = iota
	eventFinal
	eventDone
)

type turnEvent struct {
	kind turnEventKind
	text string
	err  error
}

// turnCollector receives one turn's notifications from the read loop and
// hands them to the stream consumer. Pushes never block the read loop.
type turnCollector struct {
	confirm security.Asker

	mu     sync.Mutex
	turnID string
	queue  []turnEvent
	closed bool
	notify chan struct{}

	// approvals caches the remote decision per approval kind after an
	// allow-always, so repeated approvals of the same kind within this
	// turn skip the callback. Dies with the turn.
	approvals map[approvalKind]string
}

func newTurnCollector(confirm security.Asker) *turnCollector {
	return &turnCollector{
		confirm:   confirm,
		notify:    make(chan struct{}, 1),
		approvals: make(map[approvalKind]string),
	}
}

func (tc *turnCollector) setTurnID(id string) {
	tc.mu.Lock()
	tc.turnID = id
	tc.mu.Unlock()
}

// matches reports whether a notification for the given turn id belongs to
// this collector. Notifications racing ahead of the turn/start response
// carry an id the collector does not know yet and are accepted.
func (tc *turnCollector) matches(turnID string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.turnID == "" || turnID == "" || tc.turnID == turnID
}

func (tc *turnCollector) push(ev turnEvent) {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	if ev.kind == eventDone {
		tc.closed = true
	}
	tc.queue = append(tc.queue, ev)
	tc.mu.Unlock()

	select {
	case tc.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest event, suspending until one is available.
func (tc *turnCollector) next(ctx context.Context) (turnEvent, error) {
	for {
		tc.mu.Lock()
		if len(tc.queue) > 0 {
			ev := tc.queue[0]
			tc.queue = tc.queue[1:]
			tc.mu.Unlock()
			return ev, nil
		}
		tc.mu.Unlock()

		select {
		case <-tc.notify:
		case <-ctx.Done():
			return turnEvent{}, ctx.Err()
		}
	}
}

// Stream starts (or reuses) a thread, starts a turn carrying the latest user
// message, and returns a lazy, single-pass sequence of text fragments. The
// sequence ends when the turn completes or fails.
func (p *Provider) Stream(ctx context.Context, req agent.StreamRequest) (agent.Stream, error) {
	last, err := latestUserMessage(req.Messages)
	if err != nil {
		return nil, err
	}

	threadID, err := p.ensureThread(ctx)
	if err != nil {
		return nil, err
	}

	collector := newTurnCollector(req.Confirm)
	p.mu.Lock()
	if p.active != nil {
		p.mu.Unlock()
		return nil, ErrTurnActive
	}
	p.active = collector
	p.mu.Unlock()

	params := turnStartParams{
		ThreadID:        threadID,
		Input:           encodeInput(last, false),
		Instructions:    req.SystemPrompt,
		Model:           req.Model,
		ReasoningEffort: req.ReasoningEffort,
		SandboxPolicy: wireSandboxPolicy{
			Mode:          req.Sandbox.Mode,
			WritableRoots: req.Sandbox.WritableRoots,
			NetworkAccess: req.Sandbox.NetworkAccess,
		},
		ApprovalPolicy: "on-request",
	}

	var res turnStartResult
	if err := p.conn.Call(ctx, methodTurnStart, params, &res); err != nil {
		if !isUnknownVariant(err) {
			p.clearActive(collector)
			return nil, err
		}

		// The subprocess does not understand local-path image references.
		// Retry the same call exactly once with every image re-encoded as
		// an inline base64 data URL; this attempt's error is the one that
		// surfaces.
		p.emit(EventAttachmentRetry, observability.LevelInfo, map[string]any{
			"thread_id": threadID,
		})
		params.Input = encodeInput(last, true)
		if err := p.conn.Call(ctx, methodTurnStart, params, &res); err != nil {
			p.clearActive(collector)
			return nil, err
		}
	}

	collector.setTurnID(res.Turn.ID)
	p.emit(EventTurnStarted, observability.LevelInfo, map[string]any{
		"thread_id": threadID,
		"turn_id":   res.Turn.ID,
	})

	return p.consume(ctx, collector), nil
}

func (p *Provider) consume(ctx context.Context, collector *turnCollector) agent.Stream {
	return func(yield func(string, error) bool) {
		defer p.clearActive(collector)

		var rec reconciler
		for {
			ev, err := collector.next(ctx)
			if err != nil {
				yield("", err)
				return
			}

			switch ev.kind {
			case eventDelta:
				if added := rec.Delta(ev.text); added != "" {
					if !yield(added, nil) {
						return
					}
				}
			case eventFinal:
				if added := rec.Finalize(ev.text); added != "" {
					if !yield(added, nil) {
						return
					}
				}
			case eventDone:
				if ev.err != nil {
					yield("", ev.err)
				}
				return
			}
		}
	}
}

func (p *Provider) clearActive(collector *turnCollector) {
	p.mu.Lock()
	if p.active == collector {
		p.active = nil
	}
	p.mu.Unlock()
}

func (p *Provider) ensureThread(ctx context.Context) (string, error) {
	p.mu.Lock()
	id := p.threadID
	p.mu.Unlock()
	if id != "" {
		return id, nil
	}

	var res threadStartResult
	if err := p.conn.Call(ctx, methodThreadStart, struct{}{}, &res); err != nil {
		return "", fmt.Errorf("start thread: %w", err)
	}

	p.mu.Lock()
	p.threadID = res.Thread.ID
	p.mu.Unlock()
	return res.Thread.ID, nil
}

func latestUserMessage(messages []protocol.Message) (protocol.Message, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == protocol.RoleUser {
			return messages[i], nil
		}
	}
	return protocol.Message{}, ErrStreamMissing
}

// encodeInput builds the ordered content items for a turn: the text item
// first, then one item per image attachment. Inline mode re-encodes each
// image as a base64 data URL for subprocesses that reject local paths.
func encodeInput(msg protocol.Message, inline bool) []inputItem {
	items := []inputItem{{Type: itemTypeText, Text: msg.Content}}
	for _, att := range msg.Attachments {
		if !att.IsImage() {
			continue
		}
		if inline {
			items = append(items, inputItem{Type: itemTypeImage, URL: dataURL(att)})
			continue
		}
		items = append(items, inputItem{Type: itemTypeLocalImage, Path: att.Path})
	}
	return items
}

func dataURL(att protocol.Attachment) string {
	data, err := os.ReadFile(att.Path)
	if err != nil {
		// An unreadable attachment becomes an empty payload; the backend
		// reports the useful error.
		data = nil
	}
	return "data:" + att.ContentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// isUnknownVariant matches the rejection signature the subprocess emits
// when a content item variant is not recognized.
func isUnknownVariant(err error) bool {
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	return strings.Contains(remote.Message, "unknown variant")
}

func (p *Provider) onItemDelta(params json.RawMessage) {
	var ev itemDeltaParams
	if err := json.Unmarshal(params, &ev); err != nil {
		p.dropEvent(methodItemDelta, params)
		return
	}

	collector := p.collector()
	if collector == nil || !collector.matches(ev.TurnID) {
		p.dropEvent(methodItemDelta, params)
		return
	}
	collector.push(turnEvent{kind: eventDelta, text: ev.Delta})
}

func (p *Provider) onItemCompleted(params json.RawMessage) {
	var ev itemCompletedParams
	if err := json.Unmarshal(params, &ev); err != nil {
		p.dropEvent(methodItemCompleted, params)
		return
	}
	if ev.Item.Type != "agentMessage" {
		return
	}

	collector := p.collector()
	if collector == nil || !collector.matches(ev.TurnID) {
		p.dropEvent(methodItemCompleted, params)
		return
	}
	collector.push(turnEvent{kind: eventFinal, text: ev.Item.Text})
}

func (p *Provider) onTurnCompleted(params json.RawMessage) {
	var ev turnCompletedParams
	if err := json.Unmarshal(params, &ev); err != nil {
		p.dropEvent(methodTurnCompleted, params)
		return
	}

	collector := p.collector()
	if collector == nil || !collector.matches(ev.Turn.ID) {
		p.dropEvent(methodTurnCompleted, params)
		return
	}
	p.emit(EventTurnCompleted, observability.LevelInfo, map[string]any{
		"turn_id": ev.Turn.ID,
	})
	collector.push(turnEvent{kind: eventDone})
}

func (p *Provider) onTurnFailed(params json.RawMessage) {
	var ev turnFailedParams
	if err := json.Unmarshal(params, &ev); err != nil {
		p.dropEvent(methodTurnFailed, params)
		return
	}

	collector := p.collector()
	if collector == nil || !collector.matches(ev.TurnID) {
		p.dropEvent(methodTurnFailed, params)
		return
	}
	p.emit(EventTurnFailed, observability.LevelWarning, map[string]any{
		"turn_id": ev.TurnID,
		"error":   ev.Error.Message,
	})
	collector.push(turnEvent{kind: eventDone, err: fmt.Errorf("turn failed: %s", ev.Error.Message)})
}
