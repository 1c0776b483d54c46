package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/tools"
)

const (
	defaultExecTimeout = 60 * time.Second
	maxExecTimeout     = 10 * time.Minute
	maxOutputSize      = 256 << 10
)

func registerExecCommand(reg *tools.Registry) error {
	return reg.Register(protocol.Tool{
		Name:        "exec_command",
		Description: "Run a shell command and return its combined output.",
		Category:    protocol.CategoryShell,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Command line to run through the shell.",
				},
				"cwd": map[string]any{
					"type":        "string",
					"description": "Working directory. Defaults to the process cwd.",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Kill the command after this many seconds.",
				},
			},
			"required": []any{"command"},
		},
		RequiresConfirmation: true,
	}, execCommand)
}

func execCommand(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var req struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd,omitempty"`
		TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("bad arguments: %v", err)
	}

	timeout := defaultExecTimeout
	if req.TimeoutSeconds > 0 {
		timeout = min(time.Duration(req.TimeoutSeconds)*time.Second, maxExecTimeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", req.Command)
	cmd.Dir = req.Cwd

	output, err := cmd.CombinedOutput()
	if len(output) > maxOutputSize {
		output = output[:maxOutputSize]
	}
	if ctx.Err() == context.DeadlineExceeded {
		return failure("command timed out after %s:\n%s", timeout, output)
	}
	if err != nil {
		return tools.Result{
			Content: fmt.Sprintf("command failed: %v\n%s", err, output),
			IsError: true,
		}, nil
	}
	return tools.Result{Content: string(output)}, nil
}
