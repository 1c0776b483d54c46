package gateway

import (
	"context"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/security"
)

// Channel is one chat surface: web, terminal, or a chat-bot integration.
// Implementations are stateless adapters owned outside the gateway; the
// gateway only ever drives them through this interface.
type Channel interface {
	// Kind names the surface family, e.g. "terminal" or "telegram".
	Kind() string
	// ChatID identifies one conversation within the surface.
	ChatID() string
	// Send delivers one complete message.
	Send(ctx context.Context, text string) error
	// SendStream delivers a message as it is generated. The channel must
	// consume the sequence exactly once.
	SendStream(ctx context.Context, stream agent.Stream) error
	// RequestConfirmation presents one confirmation prompt and suspends
	// until the human decides.
	RequestConfirmation(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error)
}

// Incoming is one user message arriving from a channel.
type Incoming struct {
	Text        string                `json:"text"`
	Attachments []protocol.Attachment `json:"attachments,omitempty"`
}
