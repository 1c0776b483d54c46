// Package security gates every tool invocation through the active security
// mode before it reaches its handler. The engine never changes mode on its
// own; transitions are driven by the orchestrator.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/tools"
)

// pathArgKeys are the argument names checked, in order, for a tool call's
// primary path argument.
var pathArgKeys = []string{"path", "file", "cwd"}

// Config holds engine initialization parameters. Supplied once at
// construction; mode and the max-obedience flag change at runtime through
// the setters.
type Config struct {
	Mode              Mode     `json:"mode,omitempty"`
	SpicyMaxObedience bool     `json:"spicy_max_obedience,omitempty"`
	WorkspaceRoot     string   `json:"workspace_root"`
	StateDir          string   `json:"state_dir"`
	ShellAllowlist    []string `json:"shell_allowlist,omitempty"`
}

// Engine enforces the active security mode against every tool invocation.
// The allow-always memo is scoped to one Engine instance and never persisted.
type Engine struct {
	registry  *tools.Registry
	sandbox   *Sandbox
	allowlist []string

	mu           sync.Mutex
	mode         Mode
	maxObedience bool
	memos        map[string]struct{}
}

// NewEngine creates an Engine over the given tool registry.
func NewEngine(cfg Config, registry *tools.Registry) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("security: nil tool registry")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeSafe
	}
	if mode != ModeSafe && mode != ModeSpicy {
		return nil, fmt.Errorf("security: unknown mode %q", mode)
	}

	sandbox, err := NewSandbox(cfg.WorkspaceRoot, cfg.StateDir)
	if err != nil {
		return nil, err
	}

	allowlist := cfg.ShellAllowlist
	if len(allowlist) == 0 {
		allowlist = DefaultShellAllowlist
	}

	return &Engine{
		registry:     registry,
		sandbox:      sandbox,
		allowlist:    allowlist,
		mode:         mode,
		maxObedience: cfg.SpicyMaxObedience,
		memos:        make(map[string]struct{}),
	}, nil
}

// Mode returns the active security mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the active security mode. Called by the orchestrator only.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// MaxObedience reports whether spicy max obedience is enabled.
func (e *Engine) MaxObedience() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxObedience
}

// SetMaxObedience toggles the spicy max-obedience flag. It only has meaning
// while the engine is in spicy mode, where it additionally skips the
// confirmation step.
func (e *Engine) SetMaxObedience(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxObedience = enabled
}

// Sandbox exposes the engine's sandbox for policy derivation.
func (e *Engine) Sandbox() *Sandbox { return e.sandbox }

// Execute gates a tool call through the active mode and runs its handler.
//
// Safe-mode gating: the call's primary path argument is resolved through the
// sandbox (managed continuity files redirect to the state directory, other
// paths must stay inside the workspace root), and shell-category tools are
// checked against the binary allow-list and the managed-file write block.
// Spicy mode skips both but still confirms. A cancel decision short-circuits
// with a failed result without invoking the handler; allow-always records a
// fingerprint memo consulted before future requests. Handler failures come
// back as failed results, never as errors.
func (e *Engine) Execute(ctx context.Context, call protocol.ToolCall, asker Asker) (tools.Result, error) {
	def, ok := e.registry.Get(call.Name)
	if !ok {
		return tools.Result{}, fmt.Errorf("%w: %s", tools.ErrNotFound, call.Name)
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}

	e.mu.Lock()
	mode := e.mode
	maxObedience := e.maxObedience
	e.mu.Unlock()

	pathKey, pathVal := primaryPathArg(args)
	fingerprintArg := pathVal

	if mode == ModeSafe {
		if pathVal != "" {
			resolved, err := e.sandbox.Resolve(pathVal)
			if err != nil {
				return tools.Result{}, err
			}
			args[pathKey] = resolved
			fingerprintArg = resolved
		}

		if def.Category == protocol.CategoryShell {
			command, _ := args["command"].(string)
			if err := checkShellCommand(command, e.allowlist); err != nil {
				return tools.Result{}, err
			}
			fingerprintArg = command
		}
	} else if def.Category == protocol.CategoryShell {
		fingerprintArg, _ = args["command"].(string)
	}

	if def.RequiresConfirmation && !(mode == ModeSpicy && maxObedience) {
		proceed, result, err := e.confirm(ctx, def, call, args, fingerprintArg, asker)
		if err != nil {
			return tools.Result{}, err
		}
		if !proceed {
			return result, nil
		}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return tools.Result{}, fmt.Errorf("re-encode arguments: %w", err)
	}

	result, err := e.registry.Execute(ctx, call.Name, raw)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return result, nil
}

// confirm runs the human sign-off step. Returns proceed=false with the
// result to hand back when the decision was cancel.
func (e *Engine) confirm(ctx context.Context, def protocol.Tool, call protocol.ToolCall, args map[string]any, fingerprintArg string, asker Asker) (bool, tools.Result, error) {
	fp := fingerprint(call.Name, fingerprintArg)

	e.mu.Lock()
	_, remembered := e.memos[fp]
	e.mu.Unlock()
	if remembered {
		return true, tools.Result{}, nil
	}

	if asker == nil {
		return false, tools.Result{Content: "confirmation required but no channel can ask", IsError: true}, nil
	}

	command, _ := args["command"].(string)
	cwd, _ := args["cwd"].(string)
	path, _ := args["path"].(string)
	req := ConfirmationRequest{
		ID:     uuid.Must(uuid.NewV7()).String(),
		Prompt: fmt.Sprintf("Allow %s?", def.Name),
		Details: ConfirmationDetails{
			Tool:      def.Name,
			Action:    string(def.Category),
			Command:   command,
			Cwd:       cwd,
			Path:      path,
			Arguments: json.RawMessage(call.Arguments),
		},
	}

	decision, err := asker.RequestConfirmation(ctx, req)
	if err != nil {
		return false, tools.Result{}, err
	}

	switch decision {
	case DecisionAllowAlways:
		e.mu.Lock()
		e.memos[fp] = struct{}{}
		e.mu.Unlock()
		return true, tools.Result{}, nil
	case DecisionAllow:
		return true, tools.Result{}, nil
	default:
		return false, tools.Result{Content: fmt.Sprintf("%s cancelled by user", def.Name), IsError: true}, nil
	}
}

func fingerprint(tool, arg string) string {
	return tool + "\x00" + arg
}

func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func primaryPathArg(args map[string]any) (string, string) {
	for _, key := range pathArgKeys {
		if v, ok := args[key].(string); ok && v != "" {
			return key, v
		}
	}
	return "", ""
}
