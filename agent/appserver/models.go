package appserver

import (
	"context"
	"fmt"

	"github.com/tailored-agentic-units/gateway/agent"
)

// Models fetches the full model catalog, following pagination cursors until
// the backend reports no more pages. The pinned default entry is always
// offered first; a catalog entry with the same id is folded into it rather
// than listed twice.
func (p *Provider) Models(ctx context.Context) ([]agent.ModelInfo, error) {
	var entries []wireModel
	cursor := ""
	for {
		var page modelListResult
		if err := p.conn.Call(ctx, methodModelList, modelListParams{Cursor: cursor}, &page); err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		entries = append(entries, page.Models...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	pinned := p.pinned
	pinned.Default = true

	models := []agent.ModelInfo{pinned}
	for _, m := range entries {
		if m.ID == pinned.ID {
			continue
		}
		models = append(models, agent.ModelInfo{
			ID:               m.ID,
			DisplayName:      m.DisplayName,
			ReasoningEfforts: m.ReasoningEfforts,
		})
	}
	return models, nil
}
