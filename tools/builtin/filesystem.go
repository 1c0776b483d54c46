package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/tools"
)

const maxReadSize = 4 << 20

func registerReadFile(reg *tools.Registry) error {
	return reg.Register(protocol.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file at the given path.",
		Category:    protocol.CategoryFilesystem,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to read.",
				},
			},
			"required": []any{"path"},
		},
	}, readFile)
}

func readFile(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("bad arguments: %v", err)
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return failure("read %s: %v", req.Path, err)
	}
	if info.Size() > maxReadSize {
		return failure("read %s: file is %d bytes, limit is %d", req.Path, info.Size(), maxReadSize)
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return failure("read %s: %v", req.Path, err)
	}
	return tools.Result{Content: string(data)}, nil
}

func registerWriteFile(reg *tools.Registry) error {
	return reg.Register(protocol.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		Category:    protocol.CategoryFilesystem,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to write.",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to write.",
				},
			},
			"required": []any{"path", "content"},
		},
		RequiresConfirmation: true,
	}, writeFile)
}

func writeFile(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("bad arguments: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return failure("write %s: %v", req.Path, err)
	}
	if err := os.WriteFile(req.Path, []byte(req.Content), 0o644); err != nil {
		return failure("write %s: %v", req.Path, err)
	}
	return tools.Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(req.Content), req.Path)}, nil
}

func registerListDirectory(reg *tools.Registry) error {
	return reg.Register(protocol.Tool{
		Name:        "list_directory",
		Description: "List the entries of a directory. Directories carry a trailing slash.",
		Category:    protocol.CategoryFilesystem,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to list.",
				},
			},
			"required": []any{"path"},
		},
	}, listDirectory)
}

func listDirectory(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("bad arguments: %v", err)
	}

	entries, err := os.ReadDir(req.Path)
	if err != nil {
		return failure("list %s: %v", req.Path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return tools.Result{Content: strings.Join(names, "\n")}, nil
}
