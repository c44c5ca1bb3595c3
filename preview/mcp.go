package preview

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/kit"
	"github.com/hazyhaar/livepage/locator"
)

type clickReq struct {
	Selector string `json:"selector"`
}

// RegisterMCP registers livepage_click, which clicks an element of the
// current version in the headless preview and selects it for editing.
func RegisterMCP(srv *mcp.Server, r *Renderer, s *builder.Session) {
	tool := &mcp.Tool{
		Name: "livepage_click",
		Description: "Click the first element matching a CSS selector in a rendered preview of the current version " +
			"and select it for editing, exactly as a user click in edit mode would.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string", "description": "CSS selector, e.g. \"nav a.cta\""},
			},
			"required": []string{"selector"},
		},
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		cr := req.(*clickReq)
		_, doc := s.Current()
		ev, err := r.Click(ctx, doc, cr.Selector)
		if err != nil {
			return nil, err
		}
		s.SetEditMode(true)
		s.HandleEvent(ev)
		return locator.EncodeEvent(ev), nil
	}

	logger := r.cfg.Logger.With("tool", tool.Name)
	kit.RegisterMCPTool(srv, tool, kit.Default(logger)(endpoint), kit.DecodeArgs[clickReq])
}
