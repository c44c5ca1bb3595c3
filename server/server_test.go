package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livepage/auth"
	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/credstore"
	"github.com/hazyhaar/livepage/dbopen"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/shield"
	"github.com/hazyhaar/livepage/sink"
)

const seed = `<html><head><title>Seed</title></head><body><h1>Hello</h1><p>seed page</p></body></html>`

type harness struct {
	ts      *httptest.Server
	client  *http.Client
	backend *llm.Scripted
	creds   *credstore.Store
	session *builder.Session
}

func newHarness(t *testing.T, responses ...[]string) *harness {
	t.Helper()
	ctx := context.Background()

	creds, err := credstore.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := creds.SetAPIKey(ctx, "test-key"); err != nil {
		t.Fatal(err)
	}
	backend := llm.NewScripted(responses...)
	hub := sink.NewHub(sink.HubConfig{})
	sess, err := builder.New(builder.Config{Seed: seed}, builder.Deps{
		Credentials: creds,
		Backends:    llm.Static(backend),
		Sink:        hub,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{}, Deps{Session: sess, Hub: hub, Credentials: creds})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	jar, _ := cookiejar.New(nil)
	h := &harness{ts: ts, client: &http.Client{Jar: jar}, backend: backend, creds: creds, session: sess}
	resp := h.do(t, http.MethodGet, "/", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /: status %d", resp.StatusCode)
	}
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// call performs a request, checks the status and decodes the JSON body into v.
func (h *harness) call(t *testing.T, method, path, body string, want int, v any) {
	t.Helper()
	resp := h.do(t, method, path, body)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, resp.StatusCode, want, data)
	}
	if v != nil {
		if err := json.Unmarshal(data, v); err != nil {
			t.Fatalf("%s %s: decode %s: %v", method, path, data, err)
		}
	}
}

func (h *harness) text(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp := h.do(t, http.MethodGet, path, "")
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

type stateResp struct {
	Busy               bool   `json:"busy"`
	EditMode           bool   `json:"edit_mode"`
	Current            int    `json:"current"`
	Versions           int    `json:"versions"`
	Error              string `json:"error"`
	CredentialRequired bool   `json:"credential_required"`
	Selection          *struct {
		Kind    string `json:"kind"`
		Locator string `json:"locator"`
	} `json:"selection"`
}

func TestIndex_IssuesSessionCookie(t *testing.T) {
	h := newHarness(t)

	u := h.ts.URL + "/"
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	var found bool
	for _, c := range h.client.Jar.Cookies(req.URL) {
		if c.Name == auth.CookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("session cookie not issued")
	}

	resp, body := h.text(t, "/")
	if !strings.Contains(body, `src="/static/app.js"`) {
		t.Fatalf("index: got %s", body)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Fatalf("X-Frame-Options: got %q", got)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Fatal("X-Trace-ID header missing")
	}

	resp, body = h.text(t, "/static/app.js")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "EventSource") {
		t.Fatalf("app.js: status %d", resp.StatusCode)
	}
}

func TestAPI_RequiresSession(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(h.ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: got %d", resp.StatusCode)
	}
}

func TestGenerate_ExportAndPreview(t *testing.T) {
	h := newHarness(t, []string{"<html><head><title>Bakery</title></head><body><h1>Bread</h1>", "<p>Daily</p></body></html>"})

	var st stateResp
	h.call(t, http.MethodPost, "/api/generate", `{"prompt":"a bakery"}`, http.StatusOK, &st)
	if st.Current != 1 || st.Versions != 2 || st.Busy {
		t.Fatalf("state: got %+v", st)
	}

	resp, body := h.text(t, "/api/export")
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="index.html"` {
		t.Fatalf("Content-Disposition: got %q", cd)
	}
	if !strings.Contains(body, "<h1>Bread</h1>") {
		t.Fatalf("export: got %q", body)
	}

	_, md := h.text(t, "/api/export?format=markdown")
	if !strings.Contains(md, "# Bread") {
		t.Fatalf("markdown export: got %q", md)
	}

	resp, body = h.text(t, "/preview?version=0")
	if got := resp.Header.Get("Content-Security-Policy"); got != shield.PreviewCSP {
		t.Fatalf("preview CSP: got %q", got)
	}
	if body != seed {
		t.Fatalf("preview of version 0: got %q", body)
	}
	_, body = h.text(t, "/preview?edit=1")
	if !strings.Contains(body, "__livepage_binding") {
		t.Fatal("edit-mode preview lacks the selection script")
	}
	if resp, _ := h.text(t, "/preview?version=9"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("out of range preview: got %d", resp.StatusCode)
	}

	var vs struct {
		Versions []builder.VersionSummary `json:"versions"`
	}
	h.call(t, http.MethodGet, "/api/versions", "", http.StatusOK, &vs)
	if len(vs.Versions) != 2 || vs.Versions[1].Title != "Bakery" || !vs.Versions[1].Current {
		t.Fatalf("versions: got %+v", vs.Versions)
	}
}

func TestEditFlow(t *testing.T) {
	h := newHarness(t, []string{"<h1>Hello</h1>_|||_<h1>Goodbye</h1>"})

	var e apiError
	h.call(t, http.MethodPost, "/api/edit", `{"instruction":"x"}`, http.StatusBadRequest, &e)
	if e.Code != "no_selection" {
		t.Fatalf("code: got %q", e.Code)
	}

	var sel struct {
		Accepted bool `json:"accepted"`
	}
	msg := `{"type":"elementSelected","selector":"html > body > h1"}`
	h.call(t, http.MethodPost, "/api/selection", msg, http.StatusOK, &sel)
	if sel.Accepted {
		t.Fatal("selection accepted outside edit mode")
	}

	var st stateResp
	h.call(t, http.MethodPost, "/api/edit-mode", `{"enabled":true}`, http.StatusOK, &st)
	if !st.EditMode {
		t.Fatal("edit mode not enabled")
	}
	h.call(t, http.MethodPost, "/api/selection", msg, http.StatusOK, &sel)
	if !sel.Accepted {
		t.Fatal("selection rejected in edit mode")
	}
	h.call(t, http.MethodGet, "/api/state", "", http.StatusOK, &st)
	if st.Selection == nil || st.Selection.Locator != "html > body > h1" {
		t.Fatalf("selection: got %+v", st.Selection)
	}

	h.call(t, http.MethodPost, "/api/edit", `{"instruction":"say goodbye"}`, http.StatusOK, &st)
	if st.Versions != 2 || st.Selection != nil {
		t.Fatalf("state after edit: got %+v", st)
	}
	_, doc := h.session.Current()
	if !strings.Contains(doc, "<h1>Goodbye</h1>") {
		t.Fatalf("document: got %q", doc)
	}

	var text struct {
		Accepted    bool   `json:"accepted"`
		Instruction string `json:"instruction"`
	}
	h.call(t, http.MethodPost, "/api/selection", `{"type":"textSelected","selector":"html > body > h1","text":"Goodbye"}`, http.StatusOK, &text)
	if !text.Accepted || text.Instruction != "Goodbye" {
		t.Fatalf("text selection: got %+v, want instruction %q", text, "Goodbye")
	}
	h.call(t, http.MethodDelete, "/api/selection", "", http.StatusOK, &st)
	if st.Selection != nil {
		t.Fatal("selection not cleared")
	}
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "empty prompt", method: "POST", path: "/api/generate", body: `{"prompt":" "}`, status: 400, code: "empty_input"},
		{name: "bad json", method: "POST", path: "/api/generate", body: `{`, status: 400, code: "bad_request"},
		{name: "bad selection", method: "POST", path: "/api/selection", body: `{"type":"hover","selector":"a"}`, status: 400, code: "bad_selection"},
		{name: "bad index", method: "POST", path: "/api/versions/x/select", status: 400, code: "bad_request"},
		{name: "missing version", method: "POST", path: "/api/versions/4/select", status: 404, code: "not_found"},
		{name: "thumbnail without preview", method: "GET", path: "/api/versions/0/thumbnail.png", status: 404, code: "preview_disabled"},
		{
			name:   "missing credential",
			setup:  func(h *harness) { h.creds.SetAPIKey(context.Background(), "") },
			method: "POST", path: "/api/generate", body: `{"prompt":"p"}`, status: 428, code: "credential_required",
		},
		{
			name:   "backend auth",
			setup:  func(h *harness) { h.backend.FailWith(&llm.RequestError{Status: 403, Message: "API key not valid"}) },
			method: "POST", path: "/api/generate", body: `{"prompt":"p"}`, status: 401, code: "backend_auth",
		},
		{
			name:   "backend failure",
			setup:  func(h *harness) { h.backend.FailWith(&llm.RequestError{Status: 500, Message: "overloaded"}) },
			method: "POST", path: "/api/generate", body: `{"prompt":"p"}`, status: 502, code: "backend_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []string{"<html>x"})
			if tt.setup != nil {
				tt.setup(h)
			}
			var e apiError
			h.call(t, tt.method, tt.path, tt.body, tt.status, &e)
			if e.Code != tt.code || e.Message == "" {
				t.Fatalf("envelope: got %+v, want code %q", e, tt.code)
			}
		})
	}
}

func TestMissingCredential_SetsFlagUntilStored(t *testing.T) {
	h := newHarness(t, []string{"<html>ok</html>"})
	h.creds.SetAPIKey(context.Background(), "")

	var e apiError
	h.call(t, http.MethodPost, "/api/generate", `{"prompt":"p"}`, http.StatusPreconditionRequired, &e)
	if !e.CredentialRequired {
		t.Fatal("credential_required not set")
	}

	var cs credentialStatus
	h.call(t, http.MethodGet, "/api/credential", "", http.StatusOK, &cs)
	if cs.Present {
		t.Fatal("credential reported present")
	}
	h.call(t, http.MethodPut, "/api/credential", `{"api_key":"new-key"}`, http.StatusOK, &cs)
	if !cs.Present || cs.Source != string(credstore.SourceStored) {
		t.Fatalf("credential: got %+v", cs)
	}

	var st stateResp
	h.call(t, http.MethodGet, "/api/state", "", http.StatusOK, &st)
	if st.CredentialRequired || st.Error != "" {
		t.Fatalf("state after storing key: got %+v", st)
	}
	h.call(t, http.MethodPost, "/api/generate", `{"prompt":"p"}`, http.StatusOK, &st)
}

func TestReplaceDocumentAndSelectVersion(t *testing.T) {
	h := newHarness(t, []string{"<html>two</html>"})
	h.call(t, http.MethodPost, "/api/generate", `{"prompt":"p"}`, http.StatusOK, nil)

	var st stateResp
	h.call(t, http.MethodPost, "/api/versions/0/select", "", http.StatusOK, &st)
	if st.Current != 0 {
		t.Fatalf("current: got %d", st.Current)
	}
	h.call(t, http.MethodPut, "/api/document", `{"document":"<p>hand edited</p>"}`, http.StatusOK, nil)
	if doc, _ := h.session.At(0); doc != "<p>hand edited</p>" {
		t.Fatalf("version 0: got %q", doc)
	}

	var models struct {
		Models  []llm.Model `json:"models"`
		Default string      `json:"default"`
	}
	h.call(t, http.MethodGet, "/api/models", "", http.StatusOK, &models)
	if len(models.Models) == 0 || models.Default != llm.DefaultModel {
		t.Fatalf("models: got %+v", models)
	}
}

func TestEvents_ReplaysHistory(t *testing.T) {
	h := newHarness(t, []string{"<html>two</html>"})
	h.call(t, http.MethodPost, "/api/generate", `{"prompt":"p"}`, http.StatusOK, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.ts.URL+"/api/events?since=0", nil)
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if sc.Text() == "event: history" {
			return
		}
	}
	t.Fatal("no history event replayed")
}

func TestMCP_OverHTTP(t *testing.T) {
	h := newHarness(t, []string{"<html><head><title>Shop</title></head><body></body></html>"})

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0.1.0"}, nil)
	transport := &mcp.StreamableClientTransport{Endpoint: h.ts.URL + "/mcp", HTTPClient: h.client}
	session, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "livepage_generate",
		Arguments: map[string]any{"prompt": "a shop"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	if cur, _ := h.session.Current(); cur != 1 {
		t.Fatalf("current after MCP generate: got %d", cur)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Secret: []byte("short")}, Deps{}); err == nil {
		t.Fatal("short secret accepted")
	}
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("missing deps accepted")
	}
}
