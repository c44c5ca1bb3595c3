package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/codec"
	"github.com/hazyhaar/livepage/history"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/locator"
	"github.com/hazyhaar/livepage/patch"
	"github.com/hazyhaar/livepage/shield"
)

// apiError is the JSON error envelope.
type apiError struct {
	Code               string `json:"code"`
	Message            string `json:"message"`
	Hint               string `json:"hint,omitempty"`
	CredentialRequired bool   `json:"credential_required,omitempty"`
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

// classify maps err to a status and an envelope.
func classify(err error) (int, apiError) {
	e := apiError{Message: err.Error()}
	var be *builder.Error
	if errors.As(err, &be) {
		e.Message = be.Message
	}
	e.CredentialRequired = builder.CredentialRequired(err)

	var (
		br badRequest
		re *llm.RequestError
	)
	switch {
	case errors.As(err, &br):
		e.Code = "bad_request"
		return http.StatusBadRequest, e
	case errors.Is(err, builder.ErrEmptyInput):
		e.Code = "empty_input"
		return http.StatusBadRequest, e
	case errors.Is(err, builder.ErrNoSelection):
		e.Code, e.Hint = "no_selection", "turn on edit mode and click an element in the preview"
		return http.StatusBadRequest, e
	case errors.Is(err, locator.ErrMalformedMessage), errors.Is(err, locator.ErrUnknownMessage),
		errors.Is(err, locator.ErrMalformedLocator):
		e.Code = "bad_selection"
		return http.StatusBadRequest, e
	case errors.Is(err, builder.ErrMissingCredential), errors.Is(err, llm.ErrNoAPIKey):
		e.Code, e.Hint = "credential_required", "PUT /api/credential with an api_key"
		return http.StatusPreconditionRequired, e
	case llm.IsAuthError(err):
		e.Code, e.Hint = "backend_auth", "check the stored API key"
		return http.StatusUnauthorized, e
	case errors.Is(err, codec.ErrMalformedEditResponse):
		e.Code, e.Hint = "malformed_response", "retry the edit"
		return http.StatusUnprocessableEntity, e
	case errors.Is(err, patch.ErrEditAlignment):
		e.Code, e.Hint = "edit_alignment", "retry the edit or select a smaller element"
		return http.StatusUnprocessableEntity, e
	case errors.Is(err, builder.ErrSuperseded), errors.Is(err, history.ErrStale):
		e.Code = "superseded"
		return http.StatusConflict, e
	case errors.Is(err, builder.ErrBusy), errors.Is(err, history.ErrSpeculativeOpen):
		e.Code, e.Hint = "busy", "wait for the running request to finish"
		return http.StatusConflict, e
	case errors.Is(err, history.ErrIndexOutOfRange), errors.Is(err, locator.ErrNotFound):
		e.Code = "not_found"
		return http.StatusNotFound, e
	case errors.As(err, &re):
		e.Code = "backend_error"
		return http.StatusBadGateway, e
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Code = "cancelled"
		return http.StatusServiceUnavailable, e
	case be != nil:
		e.Code = "backend_error"
		return http.StatusBadGateway, e
	}
	e.Code, e.Message = "internal", "internal error"
	return http.StatusInternalServerError, e
}

// writeError writes err as the JSON envelope. Server-side failures are
// logged with the request trace id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := classify(err)
	log := shield.GetLogger(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("server: request failed", "status", code, "error", err)
	} else {
		log.Debug("server: request rejected", "status", code, "code", body.Code, "error", err)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
