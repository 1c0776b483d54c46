package builtin

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/tools"
)

const maxSearchResults = 200

func registerSearchFiles(reg *tools.Registry) error {
	return reg.Register(protocol.Tool{
		Name:        "search_files",
		Description: "Find files under a directory whose names match a glob pattern.",
		Category:    protocol.CategorySearch,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern matched against file names, e.g. *.go.",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search. Defaults to the current directory.",
				},
			},
			"required": []any{"pattern"},
		},
	}, searchFiles)
}

func searchFiles(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var req struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path,omitempty"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("bad arguments: %v", err)
	}
	if req.Path == "" {
		req.Path = "."
	}

	var matches []string
	err := filepath.WalkDir(req.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != req.Path {
				return filepath.SkipDir
			}
			return nil
		}
		ok, matchErr := filepath.Match(req.Pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, path)
			if len(matches) >= maxSearchResults {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return failure("search %s: %v", req.Path, err)
	}

	if len(matches) == 0 {
		return tools.Result{Content: "no matches"}, nil
	}
	return tools.Result{Content: strings.Join(matches, "\n")}, nil
}
