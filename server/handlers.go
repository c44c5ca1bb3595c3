package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/livepage/auth"
	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/credstore"
	"github.com/hazyhaar/livepage/horosafe"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/locator"
	"github.com/hazyhaar/livepage/selection"
	"github.com/hazyhaar/livepage/shield"
)

// handleIndex serves the host page and issues a session cookie to clients
// that lack a valid one.
func (s *Server) handleIndex(static fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.GetClaims(r.Context()) == nil {
			token, err := s.IssueToken()
			if err != nil {
				writeError(w, r, err)
				return
			}
			auth.SetTokenCookie(w, token, s.cfg.SessionTTL, s.cfg.SecureCookie)
		}
		f, err := static.Open("index.html")
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		io.Copy(w, f)
	}
}

// document returns the version named by ?version=, or the current one.
func (s *Server) document(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		_, doc := s.deps.Session.Current()
		return doc, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return "", errBadRequest("version must be an integer")
	}
	return s.deps.Session.At(i)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	doc, err := s.document(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("edit") == "1" {
		doc = locator.Inject(doc)
	}
	w.Header().Set("Content-Security-Policy", shield.PreviewCSP)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, doc)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": llm.Models(), "default": llm.DefaultModel})
}

func (s *Server) handleVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"versions": s.deps.Session.Versions()})
}

func versionParam(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, errBadRequest("version index must be an integer")
	}
	return i, nil
}

func (s *Server) handleSelectVersion(w http.ResponseWriter, r *http.Request) {
	i, err := versionParam(r)
	if err == nil {
		err = s.deps.Session.SelectVersion(i)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preview == nil {
		writeJSON(w, http.StatusNotFound, apiError{
			Code:    "preview_disabled",
			Message: "headless preview is not enabled",
			Hint:    "start livepage with preview.enabled or LIVEPAGE_PREVIEW=1",
		})
		return
	}
	i, err := versionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.deps.Session.At(i)
	if err != nil {
		writeError(w, r, err)
		return
	}
	png, err := s.deps.Preview.Screenshot(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Write(png)
}

func (s *Server) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Document string `json:"document"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Session.ReplaceCurrent(req.Document); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Session.Generate(r.Context(), req.Prompt, req.Model); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

func (s *Server) handleEditMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.deps.Session.SetEditMode(req.Enabled)
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

// handleSelection receives a message the preview script posted to the host
// page and the host relayed.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	body, err := horosafe.LimitedReadAll(r.Body, s.cfg.MaxBody)
	if err != nil {
		writeError(w, r, errBadRequest(err.Error()))
		return
	}
	ev, err := locator.DecodeMessage(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"accepted": s.deps.Session.HandleEvent(ev)}
	st := s.deps.Session.State()
	if st.Selection != nil {
		resp["instruction"] = selection.DefaultInstruction(*st.Selection)
	}
	resp["state"] = st
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.deps.Session.ClearSelection()
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instruction string `json:"instruction"`
		Model       string `json:"model"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Session.Edit(r.Context(), req.Instruction, req.Model); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.State())
}

type credentialStatus struct {
	Present bool   `json:"present"`
	Source  string `json:"source,omitempty"`
}

func (s *Server) credentialStatus(r *http.Request) (credentialStatus, error) {
	_, src, err := s.deps.Credentials.Lookup(r.Context())
	if errors.Is(err, credstore.ErrMissingCredential) {
		return credentialStatus{}, nil
	}
	if err != nil {
		return credentialStatus{}, err
	}
	return credentialStatus{Present: true, Source: string(src)}, nil
}

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	st, err := s.credentialStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Credentials.SetAPIKey(r.Context(), req.APIKey); err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Session.CredentialUpdated()
	shield.GetLogger(r.Context()).Info("server: credential updated", "cleared", req.APIKey == "")

	st, err := s.credentialStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleExport downloads a version as index.html, or as index.md with
// ?format=markdown.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.document(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	name, ctype := "index.html", "text/html; charset=utf-8"
	if r.URL.Query().Get("format") == "markdown" {
		doc, err = builder.Markdown(doc)
		if err != nil {
			writeError(w, r, err)
			return
		}
		name, ctype = "index.md", "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	io.WriteString(w, doc)
}

// decode reads a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, errBadRequest("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}
