package builder

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/livepage/kit"
)

// RegisterMCP registers the livepage tools on an MCP server.
func RegisterMCP(srv *mcp.Server, s *Session) {
	registerGenerateTool(srv, s)
	registerSelectTool(srv, s)
	registerEditTool(srv, s)
	registerVersionsTool(srv, s)
	registerSelectVersionTool(srv, s)
	registerDocumentTool(srv, s)
	registerMarkdownTool(srv, s)
}

// registerTool wraps endpoint in the default middleware stack, logging
// under the tool name, and registers it.
func (s *Session) registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	logger := s.cfg.Logger.With("tool", tool.Name)
	kit.RegisterMCPTool(srv, tool, kit.Default(logger)(endpoint), decode)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var modelProp = map[string]any{"type": "string", "description": "Model id (default gemini-2.5-pro)"}

// outcome is what the streaming tools report back.
type outcome struct {
	Current  int    `json:"current"`
	Versions int    `json:"versions"`
	Bytes    int    `json:"bytes"`
	Title    string `json:"title,omitempty"`
}

func (s *Session) outcome() outcome {
	cur, doc := s.Current()
	title, _ := Summarize(doc)
	return outcome{Current: cur, Versions: s.State().Versions, Bytes: len(doc), Title: title}
}

// toolError prefers the user-facing message of a failed request.
func toolError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return errors.New(e.Message)
	}
	return err
}

// --- generate ---

type generateReq struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func registerGenerateTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name:        "livepage_generate",
		Description: "Generate a complete single-page website from a description. The result becomes a new version.",
		InputSchema: inputSchema(map[string]any{
			"prompt": map[string]any{"type": "string", "description": "Description of the website"},
			"model":  modelProp,
		}, []string{"prompt"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*generateReq)
		if err := s.Generate(ctx, r.Prompt, r.Model); err != nil {
			return nil, toolError(err)
		}
		return s.outcome(), nil
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[generateReq])
}

// --- select ---

type selectReq struct {
	Locator string `json:"locator"`
	Text    string `json:"text"`
}

func registerSelectTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name: "livepage_select",
		Description: "Select the element at a locator (e.g. \"html > body > div:nth-of-type(2) > h1\" or \"section#pricing > p\") " +
			"in the current version. Pass text to select a text run inside it instead. Returns the element's HTML.",
		InputSchema: inputSchema(map[string]any{
			"locator": map[string]any{"type": "string", "description": "Structural element path"},
			"text":    map[string]any{"type": "string", "description": "Literal text to replace (optional)"},
		}, []string{"locator"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*selectReq)
		outer, err := s.Select(r.Locator, r.Text)
		if err != nil {
			return nil, err
		}
		st := s.State()
		return map[string]any{"selection": st.Selection, "element": outer}, nil
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[selectReq])
}

// --- edit ---

type editReq struct {
	Instruction string `json:"instruction"`
	Model       string `json:"model"`
}

func registerEditTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name: "livepage_edit",
		Description: "Apply an instruction to the selected element, or the replacement text to the selected text run. " +
			"Call livepage_select first. The result becomes a new version.",
		InputSchema: inputSchema(map[string]any{
			"instruction": map[string]any{"type": "string", "description": "Change to make, or the new text for a text selection"},
			"model":       modelProp,
		}, []string{"instruction"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*editReq)
		if err := s.Edit(ctx, r.Instruction, r.Model); err != nil {
			return nil, toolError(err)
		}
		return s.outcome(), nil
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[editReq])
}

// --- versions ---

type emptyReq struct{}

func registerVersionsTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name:        "livepage_versions",
		Description: "List every version with its title, a text excerpt and which one is current.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(context.Context, any) (any, error) {
		return map[string]any{"versions": s.Versions()}, nil
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[emptyReq])
}

// --- select_version ---

type selectVersionReq struct {
	Index int `json:"index"`
}

func registerSelectVersionTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name:        "livepage_select_version",
		Description: "Make an earlier or later version the current one.",
		InputSchema: inputSchema(map[string]any{
			"index": map[string]any{"type": "integer", "description": "0-based version index"},
		}, []string{"index"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*selectVersionReq)
		if err := s.SelectVersion(r.Index); err != nil {
			return nil, err
		}
		return s.outcome(), nil
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[selectVersionReq])
}

// --- document / markdown ---

type documentReq struct {
	Index *int `json:"index"`
}

func (s *Session) document(r *documentReq) (string, error) {
	if r.Index == nil {
		_, doc := s.Current()
		return doc, nil
	}
	return s.At(*r.Index)
}

var indexProp = map[string]any{"type": "integer", "description": "0-based version index (default: current)"}

func registerDocumentTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name:        "livepage_document",
		Description: "Return the HTML of a version.",
		InputSchema: inputSchema(map[string]any{"index": indexProp}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		return s.document(req.(*documentReq))
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[documentReq])
}

func registerMarkdownTool(srv *mcp.Server, s *Session) {
	tool := &mcp.Tool{
		Name:        "livepage_markdown",
		Description: "Return the text content of a version as Markdown.",
		InputSchema: inputSchema(map[string]any{"index": indexProp}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		doc, err := s.document(req.(*documentReq))
		if err != nil {
			return nil, err
		}
		return Markdown(doc)
	}

	s.registerTool(srv, tool, endpoint, kit.DecodeArgs[documentReq])
}
