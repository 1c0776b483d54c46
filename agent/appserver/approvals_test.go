package appserver_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/agent/appserver"
	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/security"
)

// startTurn brings a provider into a streaming turn so inbound approvals
// have an active confirmation callback to route to. The returned finish
// func completes the turn and drains the stream.
func startTurn(t *testing.T, conn *fakeConn, p *appserver.Provider, confirm security.Asker) (finish func()) {
	t.Helper()
	scriptTurn(conn, "turn-1")

	stream, err := p.Stream(context.Background(), agent.StreamRequest{
		Messages: []protocol.Message{userMessage("hi")},
		Confirm:  confirm,
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	return func() {
		conn.notify(t, "turn/completed", map[string]any{
			"turn": map[string]any{"id": "turn-1"},
		})
		if _, err := collect(t, stream); err != nil {
			t.Fatalf("stream failed: %v", err)
		}
	}
}

func TestProvider_ApprovalAllowOnce(t *testing.T) {
	conn := newFakeConn()
	p := appserver.New(conn)

	var asked atomic.Int32
	confirm := security.AskerFunc(func(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error) {
		asked.Add(1)
		if req.Details.Command != "ls -la" {
			t.Errorf("got command %q, want %q", req.Details.Command, "ls -la")
		}
		return security.DecisionAllow, nil
	})

	finish := startTurn(t, conn, p, confirm)
	defer finish()

	result, err := conn.request(t, "execCommandApproval", map[string]any{
		"turnId": "turn-1", "command": "ls -la", "cwd": "/tmp",
	})
	if err != nil {
		t.Fatalf("approval request failed: %v", err)
	}
	if got := approvalDecision(t, result); got != "approved" {
		t.Errorf("got decision %q, want %q", got, "approved")
	}

	// Allow-once is single use: the next approval of the same kind asks
	// again.
	if _, err := conn.request(t, "execCommandApproval", map[string]any{
		"turnId": "turn-1", "command": "ls -la",
	}); err != nil {
		t.Fatalf("second approval request failed: %v", err)
	}
	if got := asked.Load(); got != 2 {
		t.Errorf("callback invoked %d times, want 2", got)
	}
}

func TestProvider_ApprovalAllowAlwaysCachedPerKind(t *testing.T) {
	conn := newFakeConn()
	p := appserver.New(conn)

	var asked atomic.Int32
	confirm := security.AskerFunc(func(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error) {
		asked.Add(1)
		return security.DecisionAllowAlways, nil
	})

	finish := startTurn(t, conn, p, confirm)
	defer finish()

	for i := range 3 {
		result, err := conn.request(t, "item/execCommandApproval", map[string]any{
			"turnId": "turn-1", "command": "make test",
		})
		if err != nil {
			t.Fatalf("approval %d failed: %v", i, err)
		}
		if got := approvalDecision(t, result); got != "approved_for_session" {
			t.Errorf("approval %d decision = %q, want %q", i, got, "approved_for_session")
		}
	}
	if got := asked.Load(); got != 1 {
		t.Errorf("callback invoked %d times, want 1", got)
	}

	// A different kind is not covered by the memo.
	if _, err := conn.request(t, "applyPatchApproval", map[string]any{
		"turnId": "turn-1", "path": "main.go",
	}); err != nil {
		t.Fatalf("patch approval failed: %v", err)
	}
	if got := asked.Load(); got != 2 {
		t.Errorf("callback invoked %d times after new kind, want 2", got)
	}
}

func TestProvider_ApprovalCancelMapsToDenied(t *testing.T) {
	conn := newFakeConn()
	p := appserver.New(conn)

	confirm := security.AskerFunc(func(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error) {
		return security.DecisionCancel, nil
	})

	finish := startTurn(t, conn, p, confirm)
	defer finish()

	result, err := conn.request(t, "fileChangeApproval", map[string]any{
		"turnId": "turn-1", "path": "notes.txt",
	})
	if err != nil {
		t.Fatalf("approval request failed: %v", err)
	}
	if got := approvalDecision(t, result); got != "denied" {
		t.Errorf("got decision %q, want %q", got, "denied")
	}
}

func TestProvider_ApprovalWithoutActiveTurnDenied(t *testing.T) {
	conn := newFakeConn()
	appserver.New(conn)

	result, err := conn.request(t, "execCommandApproval", map[string]any{
		"turnId": "turn-9", "command": "rm -rf /",
	})
	if err != nil {
		t.Fatalf("approval request failed: %v", err)
	}
	if got := approvalDecision(t, result); got != "denied" {
		t.Errorf("got decision %q, want %q", got, "denied")
	}
}

func TestProvider_UnknownRequestMethodRejected(t *testing.T) {
	conn := newFakeConn()
	appserver.New(conn)

	_, err := conn.request(t, "mystery/method", map[string]any{})
	if err == nil {
		t.Fatal("expected error for unknown method, got nil")
	}
	if !strings.Contains(err.Error(), "mystery/method") {
		t.Errorf("got error %q, want it to name the method", err)
	}
}

// approvalDecision extracts the decision field from a handler result.
func approvalDecision(t *testing.T, result any) string {
	t.Helper()
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal approval result: %v", err)
	}
	var res struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode approval result: %v", err)
	}
	return res.Decision
}
