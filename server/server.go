// Package server exposes a builder session over HTTP: the host UI, the
// preview document, the JSON API, the update stream and the MCP endpoint.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/livepage/auth"
	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/credstore"
	"github.com/hazyhaar/livepage/horosafe"
	"github.com/hazyhaar/livepage/idgen"
	"github.com/hazyhaar/livepage/preview"
	"github.com/hazyhaar/livepage/shield"
	"github.com/hazyhaar/livepage/sink"
)

//go:embed static
var staticFS embed.FS

// Version is reported by /healthz and the MCP implementation.
const Version = "0.3.0"

// Config configures the server.
type Config struct {
	// MaxBody caps request bodies. Default: 4 MiB.
	MaxBody int64
	// SessionTTL is the lifetime of the session cookie. Default: 24h.
	SessionTTL time.Duration
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	// Secret signs session tokens. Default: random per process.
	Secret []byte
	// Offline is recorded in session tokens and reported by /healthz.
	Offline bool
	// Headers override the security headers. Default: shield.DefaultHeaders.
	Headers *shield.HeaderConfig

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxBody <= 0 {
		c.MaxBody = 4 << 20
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.Secret == nil {
		c.Secret = horosafe.NewSecret()
	}
	if c.Headers == nil {
		h := shield.DefaultHeaders()
		c.Headers = &h
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Credentials stores the backend API key.
type Credentials interface {
	Lookup(ctx context.Context) (string, credstore.Source, error)
	SetAPIKey(ctx context.Context, v string) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Session     *builder.Session
	Hub         *sink.Hub
	Credentials Credentials
	// Preview enables thumbnails and the livepage_click tool. Optional.
	Preview *preview.Renderer
}

// Server is the livepage HTTP handler.
type Server struct {
	cfg    Config
	deps   Deps
	mcp    *mcp.Server
	router chi.Router
}

// New validates cfg and builds the routes.
func New(cfg Config, deps Deps) (*Server, error) {
	cfg.defaults()
	if err := horosafe.ValidateSecret(cfg.Secret); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if deps.Session == nil || deps.Hub == nil || deps.Credentials == nil {
		return nil, errors.New("server: session, hub and credentials are required")
	}

	s := &Server{cfg: cfg, deps: deps}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "livepage", Version: Version}, nil)
	builder.RegisterMCP(s.mcp, deps.Session)
	if deps.Preview != nil {
		preview.RegisterMCP(s.mcp, deps.Preview, deps.Session)
	}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// MCP returns the MCP server carrying the livepage tools.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// IssueToken returns a signed token for a new session. The host UI gets one
// as a cookie; other clients send it as a Bearer token.
func (s *Server) IssueToken() (string, error) {
	return auth.GenerateToken(s.cfg.Secret, auth.NewSessionClaims(idgen.Session(), s.cfg.Offline), s.cfg.SessionTTL)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(*s.cfg.Headers, s.cfg.MaxBody) {
		r.Use(mw)
	}
	r.Use(auth.Middleware(s.cfg.Secret))

	static, _ := fs.Sub(staticFS, "static")

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": Version, "offline": s.cfg.Offline})
	})
	r.Get("/", s.handleIndex(static))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession)

		r.Get("/preview", s.handlePreview)

		r.Route("/api", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Get("/models", s.handleModels)
			r.Get("/versions", s.handleVersions)
			r.Post("/versions/{index}/select", s.handleSelectVersion)
			r.Get("/versions/{index}/thumbnail.png", s.handleThumbnail)
			r.Put("/document", s.handleReplaceDocument)
			r.Post("/generate", s.handleGenerate)
			r.Post("/edit-mode", s.handleEditMode)
			r.Post("/selection", s.handleSelection)
			r.Delete("/selection", s.handleClearSelection)
			r.Post("/edit", s.handleEdit)
			r.Get("/credential", s.handleGetCredential)
			r.Put("/credential", s.handlePutCredential)
			r.Get("/export", s.handleExport)
			r.Get("/events", s.deps.Hub.ServeHTTP)
		})

		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, nil))
	})
	return r
}
