package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tailored-agentic-units/gateway/core/protocol"
	"github.com/tailored-agentic-units/gateway/tools"
)

const maxFetchSize = 2 << 20

var fetchClient = &http.Client{Timeout: 30 * time.Second}

func registerFetchURL(reg *tools.Registry) error {
	return reg.Register(protocol.Tool{
		Name:        "fetch_url",
		Description: "Fetch a http(s) URL and return the response body as text.",
		Category:    protocol.CategoryBrowser,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch.",
				},
			},
			"required": []any{"url"},
		},
	}, fetchURL)
}

func fetchURL(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("bad arguments: %v", err)
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return failure("fetch %s: only http and https URLs are supported", req.URL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return failure("fetch %s: %v", req.URL, err)
	}

	resp, err := fetchClient.Do(httpReq)
	if err != nil {
		return failure("fetch %s: %v", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return failure("fetch %s: %v", req.URL, err)
	}
	if resp.StatusCode >= 400 {
		return failure("fetch %s: status %s\n%s", req.URL, resp.Status, body)
	}
	return tools.Result{Content: string(body)}, nil
}
