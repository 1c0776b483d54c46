package protocol

// ToolCategory groups tools by the kind of resource they touch. The security
// engine keys mode restrictions off the category.
type ToolCategory string

const (
	CategoryFilesystem ToolCategory = "filesystem"
	CategoryShell      ToolCategory = "shell"
	CategorySearch     ToolCategory = "search"
	CategoryBrowser    ToolCategory = "browser"
	CategorySandbox    ToolCategory = "sandbox"
)

// Tool defines a function that can be called by the LLM.
// This is the canonical tool definition type used across the gateway.
// Parameters uses JSON Schema format to describe the function's input.
// RequiresConfirmation marks tools that need human sign-off before execution.
type Tool struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	Parameters           map[string]any `json:"parameters"`
	Category             ToolCategory   `json:"category,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
}
