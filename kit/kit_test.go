package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport(t *testing.T) {
	if v := GetTransport(context.Background()); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	ctx := WithTransport(context.Background(), "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_IDs(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetTraceID(ctx) != "" || GetSessionID(ctx) != "" {
		t.Fatal("empty context must yield empty ids")
	}
	ctx = WithRequestID(ctx, "req_abc")
	ctx = WithTraceID(ctx, "trc_xyz")
	ctx = WithSessionID(ctx, "ses_1")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
	if v := GetTraceID(ctx); v != "trc_xyz" {
		t.Fatalf("trace_id: got %q", v)
	}
	if v := GetSessionID(ctx); v != "ses_1" {
		t.Fatalf("session_id: got %q", v)
	}
}

type echoReq struct {
	Text string `json:"text"`
}

func mcpSession(t *testing.T, register func(*mcp.Server)) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRegisterMCPTool(t *testing.T) {
	var transport string
	session := mcpSession(t, func(srv *mcp.Server) {
		tool := &mcp.Tool{
			Name:        "echo",
			Description: "echo text",
			InputSchema: map[string]any{"type": "object"},
		}
		RegisterMCPTool(srv, tool, func(ctx context.Context, req any) (any, error) {
			transport = GetTransport(ctx)
			r := req.(*echoReq)
			if r.Text == "" {
				return nil, errors.New("text is required")
			}
			return map[string]string{"text": r.Text}, nil
		}, DecodeArgs[echoReq])
	})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := res.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatal(err)
	}
	if out["text"] != "hi" {
		t.Fatalf("text: got %q", out["text"])
	}
	if transport != "mcp" {
		t.Fatalf("transport: got %q, want mcp", transport)
	}

	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.GetError() == nil {
		t.Fatal("expected tool error for empty text")
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ep := Default(logger)(func(context.Context, any) (any, error) {
		panic("boom")
	})

	_, err := ep(context.Background(), nil)
	var pe *ErrPanic
	if !errors.As(err, &pe) {
		t.Fatalf("error: got %v, want *ErrPanic", err)
	}
	if pe.Value != "boom" {
		t.Fatalf("panic value: got %v, want %q", pe.Value, "boom")
	}
	if !strings.Contains(buf.String(), "endpoint panic recovered") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fail := errors.New("fail")
	ep := Logging(logger)(func(context.Context, any) (any, error) { return nil, fail })

	if _, err := ep(WithTransport(context.Background(), "mcp"), nil); !errors.Is(err, fail) {
		t.Fatalf("error: got %v, want %v", err, fail)
	}
	out := buf.String()
	if !strings.Contains(out, "call failed") || !strings.Contains(out, "transport=mcp") {
		t.Fatalf("log: got %q", out)
	}

	buf.Reset()
	ok := Logging(logger)(func(context.Context, any) (any, error) { return "ok", nil })
	if resp, _ := ok(context.Background(), nil); resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}
	if !strings.Contains(buf.String(), "call ok") {
		t.Fatalf("log: got %q", buf.String())
	}
}
