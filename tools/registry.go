// Package tools provides the tool registry consulted by the security engine.
// Definitions are registered once at startup and immutable thereafter; each
// tool's parameter schema is compiled at registration so arguments are
// validated before any handler runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tailored-agentic-units/gateway/core/protocol"
)

// Handler is the function signature for tool implementations.
// Handlers receive the request context and JSON-encoded arguments.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Result is the tool execution output that feeds back to the model and the
// channel. IsError signals that the invocation failed.
type Result struct {
	Content string
	IsError bool
}

type entry struct {
	tool    protocol.Tool
	handler Handler
	schema  *jsonschema.Schema
}

// Registry holds tool definitions and handlers. Constructed explicitly and
// passed to its consumers; there is no package-level instance.
// Thread-safe for concurrent access.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a new tool to the registry, compiling its parameter schema.
// Returns ErrAlreadyExists if a tool with the same name is registered and
// ErrBadSchema if the parameter schema does not compile.
func (r *Registry) Register(tool protocol.Tool, handler Handler) error {
	if tool.Name == "" {
		return ErrEmptyName
	}

	schema, err := compileSchema(tool)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, tool.Name)
	}

	r.entries[tool.Name] = entry{tool: tool, handler: handler, schema: schema}
	return nil
}

// Get retrieves a tool definition by name.
func (r *Registry) Get(name string) (protocol.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	return e.tool, exists
}

// List returns the definitions of all registered tools, sorted by name.
func (r *Registry) List() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]protocol.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Execute validates the arguments against the tool's parameter schema and
// dispatches to the registered handler. Schema violations come back as a
// failed Result rather than an error so they feed into the conversation.
// Returns ErrNotFound if the tool is not registered; handler errors are
// wrapped with the tool name for context.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	r.mu.RLock()
	e, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if e.schema != nil {
		if err := validateArgs(e.schema, args); err != nil {
			return Result{
				Content: fmt.Sprintf("invalid arguments for %s: %v", name, err),
				IsError: true,
			}, nil
		}
	}

	result, err := e.handler(ctx, args)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s execution failed: %w", name, err)
	}

	return result, nil
}

func compileSchema(tool protocol.Tool) (*jsonschema.Schema, error) {
	if len(tool.Parameters) == 0 {
		return nil, nil
	}

	c := jsonschema.NewCompiler()
	url := "tool://" + tool.Name + "/parameters.json"
	if err := c.AddResource(url, normalizeSchemaDoc(tool.Parameters)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadSchema, tool.Name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadSchema, tool.Name, err)
	}
	return schema, nil
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// normalizeSchemaDoc round-trips the schema document through JSON so the
// compiler sees plain decoded values regardless of how the map was built.
func normalizeSchemaDoc(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return params
	}
	return doc
}
