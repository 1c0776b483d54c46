// Package agent defines the provider contract the gateway drives and the
// registry that manages named provider backends. Providers are
// interchangeable: the RPC-backed subprocess adapter and plain HTTP adapters
// implement the same surface.
package agent

import (
	"context"
	"iter"

	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/security"
)

// ModelInfo describes one entry of a provider's model catalog.
type ModelInfo struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name"`
	Default          bool     `json:"default,omitempty"`
	ReasoningEfforts []string `json:"reasoning_efforts,omitempty"`
}

// SandboxPolicy is the execution confinement handed to a backend for the
// duration of one turn, derived from the active security mode.
type SandboxPolicy struct {
	Mode          string   `json:"mode"`
	WritableRoots []string `json:"writable_roots,omitempty"`
	NetworkAccess bool     `json:"network_access,omitempty"`
}

// StreamRequest carries everything a provider needs for one generation turn.
type StreamRequest struct {
	Messages        []protocol.Message
	Tools           []protocol.Tool
	Model           string
	ReasoningEffort string
	SystemPrompt    string
	Sandbox         SandboxPolicy
	// Confirm answers approval requests raised mid-turn. Nil means every
	// approval resolves to cancel.
	Confirm security.Asker
}

// Stream is a lazy, single-pass, non-restartable sequence of text fragments.
// Iteration ends when the turn completes; a non-nil error ends the turn
// abnormally.
type Stream = iter.Seq2[string, error]

// Provider is one conversation backend.
type Provider interface {
	// Name returns the provider's registry name.
	Name() string
	// Models returns the provider's model catalog.
	Models(ctx context.Context) ([]ModelInfo, error)
	// Stream runs one generation turn and yields text fragments.
	Stream(ctx context.Context, req StreamRequest) (Stream, error)
}

// Chatter is implemented by stateless adapters that also offer a buffered
// request/response call.
type Chatter interface {
	Chat(ctx context.Context, req StreamRequest) (protocol.Message, error)
}
