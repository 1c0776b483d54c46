package security

import "encoding/json"

// Decision is a human response to a confirmation request.
type Decision string

const (
	DecisionAllow       Decision = "allow-once"
	DecisionAllowAlways Decision = "allow-always"
	DecisionCancel      Decision = "cancel"
)

// ConfirmationDetails carries the structured facts a surface can render
// alongside the prompt. Zero-value fields are omitted by renderers.
type ConfirmationDetails struct {
	Tool      string          `json:"tool,omitempty"`
	Action    string          `json:"action,omitempty"`
	Command   string          `json:"command,omitempty"`
	Cwd       string          `json:"cwd,omitempty"`
	Path      string          `json:"path,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ConfirmationRequest asks a human to sign off on an action before it runs.
type ConfirmationRequest struct {
	ID      string              `json:"id"`
	Prompt  string              `json:"prompt"`
	Details ConfirmationDetails `json:"details"`
}
