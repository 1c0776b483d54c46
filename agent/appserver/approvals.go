package appserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/gateway/observability"
	"github.com/tailored-agentic-units/gateway/security"
)

// approvalKind classifies the inbound approval request variants.
type approvalKind int

const (
	approvalExecCommand approvalKind = iota
	approvalApplyPatch
	approvalFileChange
)

// Remote decision vocabulary.
const (
	decisionApproved           = "approved"
	decisionApprovedForSession = "approved_for_session"
	decisionDenied             = "denied"
)

// approvalMethods maps every known approval request method, both the typed
// item-scoped forms and the legacy flat forms, to its kind.
var approvalMethods = map[string]approvalKind{
	"item/execCommandApproval": approvalExecCommand,
	"item/applyPatchApproval":  approvalApplyPatch,
	"item/fileChangeApproval":  approvalFileChange,
	"execCommandApproval":      approvalExecCommand,
	"applyPatchApproval":       approvalApplyPatch,
	"fileChangeApproval":       approvalFileChange,
}

func (k approvalKind) tool() string {
	switch k {
	case approvalExecCommand:
		return "exec_command"
	case approvalApplyPatch:
		return "apply_patch"
	default:
		return "file_change"
	}
}

func (k approvalKind) action() string {
	switch k {
	case approvalExecCommand:
		return "run a shell command"
	case approvalApplyPatch:
		return "apply a patch"
	default:
		return "change a file"
	}
}

type approvalParams struct {
	TurnID  string `json:"turnId,omitempty"`
	ItemID  string `json:"itemId,omitempty"`
	Command string `json:"command,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Path    string `json:"path,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type approvalResult struct {
	Decision string `json:"decision"`
}

// handleRequest answers inbound requests from the subprocess. Approval
// variants are mapped to a confirmation request and routed to the active
// turn's confirmation callback; everything else is rejected.
func (p *Provider) handleRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	kind, ok := approvalMethods[method]
	if !ok {
		return nil, fmt.Errorf("unsupported request method %q", method)
	}

	var req approvalParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", method, err)
	}

	p.emit(EventApprovalReceived, observability.LevelInfo, map[string]any{
		"method":  method,
		"turn_id": req.TurnID,
	})

	collector := p.collector()
	if collector == nil || !collector.matches(req.TurnID) || collector.confirm == nil {
		return approvalResult{Decision: decisionDenied}, nil
	}

	// A prior allow-always for this kind covers the rest of the turn.
	collector.mu.Lock()
	cached, hit := collector.approvals[kind]
	collector.mu.Unlock()
	if hit {
		return approvalResult{Decision: cached}, nil
	}

	decision, err := collector.confirm.RequestConfirmation(ctx, security.ConfirmationRequest{
		ID:     uuid.Must(uuid.NewV7()).String(),
		Prompt: approvalPrompt(kind, req),
		Details: security.ConfirmationDetails{
			Tool:    kind.tool(),
			Action:  kind.action(),
			Command: req.Command,
			Cwd:     req.Cwd,
			Path:    req.Path,
		},
	})
	if err != nil {
		return approvalResult{Decision: decisionDenied}, nil
	}

	switch decision {
	case security.DecisionAllow:
		return approvalResult{Decision: decisionApproved}, nil
	case security.DecisionAllowAlways:
		collector.mu.Lock()
		collector.approvals[kind] = decisionApprovedForSession
		collector.mu.Unlock()
		return approvalResult{Decision: decisionApprovedForSession}, nil
	default:
		return approvalResult{Decision: decisionDenied}, nil
	}
}

func approvalPrompt(kind approvalKind, req approvalParams) string {
	var b strings.Builder
	b.WriteString("The agent wants to ")
	b.WriteString(kind.action())
	if req.Command != "" {
		fmt.Fprintf(&b, ": %s", req.Command)
	} else if req.Path != "" {
		fmt.Fprintf(&b, ": %s", req.Path)
	}
	if req.Reason != "" {
		fmt.Fprintf(&b, " (%s)", req.Reason)
	}
	return b.String()
}
