// Package builder runs a livepage session: it owns the version history and
// the pending selection, drives generation and edit requests against a
// backend, and publishes every state change to a sink.
//
// A request streams into a speculative history entry. Whatever happens, a
// request ends in exactly one of three ways: committed, rolled back with a
// user-visible error, or superseded by a newer request that already took its
// place.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/livepage/codec"
	"github.com/hazyhaar/livepage/credstore"
	"github.com/hazyhaar/livepage/history"
	"github.com/hazyhaar/livepage/idgen"
	"github.com/hazyhaar/livepage/kit"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/locator"
	"github.com/hazyhaar/livepage/patch"
	"github.com/hazyhaar/livepage/selection"
	"github.com/hazyhaar/livepage/sink"
	"github.com/hazyhaar/livepage/update"
)

// Operations.
const (
	OpGenerate = "generate"
	OpEdit     = "edit"
)

var (
	// ErrMissingCredential is returned when no API key is available.
	ErrMissingCredential = credstore.ErrMissingCredential
	// ErrEmptyInput is returned for a blank prompt or instruction.
	ErrEmptyInput = selection.ErrEmptyInput
	// ErrNoSelection is returned when an edit is requested with nothing selected.
	ErrNoSelection = selection.ErrNoSelection
	// ErrSuperseded is returned by a request that a newer request replaced.
	ErrSuperseded = errors.New("builder: request superseded")
	// ErrBusy is returned by history operations attempted while a request is
	// in flight.
	ErrBusy = errors.New("builder: request in flight")
)

// User-visible messages.
const (
	msgEmptyPrompt      = "Please enter a prompt to generate the website."
	msgEmptyInstruction = "No edit instruction provided."
	msgNoSelection      = "Select an element or some text in the preview first."
	msgMissingKey       = "Gemini API Key not found. Please set it in the settings."
	msgGenerateFailed   = "Failed to generate website code. Details: "
	msgEditFailed       = "Failed to get edit stream. Details: "
	msgMalformed        = "Could not apply edit. The AI returned an invalid response format."
	msgAlignment        = "Could not apply edit. The AI's response did not match the current code. Try again."
	msgCancelled        = "The request was cancelled."
)

// Error is a failed request. Message is what the user is shown.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return "builder: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// CredentialRequired reports whether err calls for a new API key.
func CredentialRequired(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, llm.ErrNoAPIKey) || llm.IsAuthError(err)
}

// Credentials resolves the API key before every backend call.
type Credentials interface {
	APIKey(ctx context.Context) (string, error)
}

// Backends hands out a backend for a credential.
type Backends interface {
	Backend(apiKey string) (llm.Backend, error)
}

// Config configures a Session.
type Config struct {
	// Seed is the first snapshot. Default: WelcomeDocument.
	Seed string `json:"-" yaml:"-"`
	// Sentinel separates the two blocks of an edit response.
	// Default: codec.DefaultSentinel.
	Sentinel string `json:"sentinel" yaml:"sentinel"`
	// DefaultModel is used when a request names no model.
	// Default: llm.DefaultModel.
	DefaultModel string `json:"default_model" yaml:"default_model"`

	Logger     *slog.Logger     `json:"-" yaml:"-"`
	RequestIDs idgen.Generator  `json:"-" yaml:"-"`
	UpdateIDs  idgen.Generator  `json:"-" yaml:"-"`
	Now        func() time.Time `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Seed == "" {
		c.Seed = WelcomeDocument
	}
	if c.Sentinel == "" {
		c.Sentinel = codec.DefaultSentinel
	}
	if c.DefaultModel == "" {
		c.DefaultModel = llm.DefaultModel
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RequestIDs == nil {
		c.RequestIDs = idgen.Request
	}
	if c.UpdateIDs == nil {
		c.UpdateIDs = idgen.Update
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Deps are the collaborators of a Session.
type Deps struct {
	Credentials Credentials
	Backends    Backends
	// Sink receives every update. Default: sink.Discard.
	Sink sink.Sink
}

// request is the in-flight request. ticket is set once a speculative entry
// has been opened.
type request struct {
	id     string
	op     string
	cancel context.CancelFunc
	ticket *history.Ticket
}

// Session is one livepage editing session. It is safe for concurrent use.
type Session struct {
	cfg  Config
	deps Deps
	hist *history.Store
	sel  selection.Mapper
	seq  atomic.Uint64

	mu       sync.Mutex
	active   *request
	editMode bool
	errMsg   string
	credReq  bool
}

// New creates a session seeded with cfg.Seed.
func New(cfg Config, deps Deps) (*Session, error) {
	cfg.defaults()
	if deps.Credentials == nil {
		return nil, errors.New("builder: Credentials is required")
	}
	if deps.Backends == nil {
		return nil, errors.New("builder: Backends is required")
	}
	if deps.Sink == nil {
		deps.Sink = sink.Discard
	}
	if _, err := codec.NewEditDecoder(cfg.Sentinel); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	return &Session{cfg: cfg, deps: deps, hist: history.New(cfg.Seed)}, nil
}

// Generate streams a new document for prompt into a new version.
func (s *Session) Generate(ctx context.Context, prompt, model string) error {
	if strings.TrimSpace(prompt) == "" {
		return s.reject(OpGenerate, ErrEmptyInput, msgEmptyPrompt)
	}
	model = s.model(model)

	backend, err := s.backend(ctx)
	if err != nil {
		return s.reject(OpGenerate, err, s.message(OpGenerate, err))
	}

	r, rctx := s.start(ctx, OpGenerate, false)
	log := s.cfg.Logger.With("request_id", r.id, "op", OpGenerate, "model", model)
	log.Info("builder: generate started")

	s.mu.Lock()
	if s.active != r {
		s.mu.Unlock()
		return ErrSuperseded
	}
	t := s.hist.Begin("")
	r.ticket = &t
	s.mu.Unlock()
	s.publish(rctx, update.KindHistory)

	for doc, err := range codec.Decode(backend.Stream(rctx, GenerateRequest(model, prompt))) {
		if err != nil {
			return s.fail(rctx, r, err, log)
		}
		if err := s.hist.Update(t, doc); err != nil {
			return s.fail(rctx, r, err, log)
		}
		s.publish(rctx, update.KindSnapshot)
	}
	return s.finish(rctx, r, log)
}

// Edit applies instruction to the pending selection.
func (s *Session) Edit(ctx context.Context, instruction, model string) error {
	if _, ok := s.sel.Pending(); !ok {
		return s.reject(OpEdit, ErrNoSelection, msgNoSelection)
	}
	if strings.TrimSpace(instruction) == "" {
		return s.reject(OpEdit, ErrEmptyInput, msgEmptyInstruction)
	}
	model = s.model(model)

	backend, err := s.backend(ctx)
	if err != nil {
		s.sel.Clear()
		return s.reject(OpEdit, err, s.message(OpEdit, err))
	}

	r, rctx := s.start(ctx, OpEdit, true)
	log := s.cfg.Logger.With("request_id", r.id, "op", OpEdit, "model", model)

	req, err := s.sel.Take(instruction)
	if err != nil {
		return s.fail(rctx, r, err, log)
	}
	_, base := s.hist.Current()
	log.Info("builder: edit started", "kind", req.Kind, "locator", req.Locator)

	var (
		applier *patch.Applier
		t       history.Ticket
	)
	chunks := backend.Stream(rctx, EditRequest(model, base, req, s.cfg.Sentinel))
	for f, err := range codec.DecodeEdit(chunks, s.cfg.Sentinel) {
		if err != nil {
			return s.fail(rctx, r, err, log)
		}
		if f.Part == codec.Original {
			applier, err = patch.NewApplier(base, f.Text)
			if err != nil {
				return s.fail(rctx, r, err, log)
			}
			s.mu.Lock()
			if s.active != r {
				s.mu.Unlock()
				return ErrSuperseded
			}
			t = s.hist.BeginFromCurrent()
			r.ticket = &t
			s.mu.Unlock()
			s.publish(rctx, update.KindHistory)
			continue
		}
		if err := s.hist.Update(t, applier.Append(f.Text)); err != nil {
			return s.fail(rctx, r, err, log)
		}
		s.publish(rctx, update.KindSnapshot)
	}
	if applier == nil {
		return s.fail(rctx, r, codec.ErrMalformedEditResponse, log)
	}
	// An empty new block deletes the original one.
	if applier.Replacement() == "" {
		if err := s.hist.Update(t, applier.Document()); err != nil {
			return s.fail(rctx, r, err, log)
		}
		s.publish(rctx, update.KindSnapshot)
	}
	return s.finish(rctx, r, log)
}

// HandleEvent records a selection made in the preview. Events arriving
// outside edit mode are ignored; the return value reports whether ev was
// taken.
func (s *Session) HandleEvent(ev locator.Event) bool {
	s.mu.Lock()
	on := s.editMode
	s.mu.Unlock()
	if !on {
		return false
	}
	s.sel.Select(ev)
	s.publish(context.Background(), update.KindState)
	return true
}

// Select turns edit mode on and selects the element at loc in the current
// snapshot. text, when non-empty, makes it a text selection. It returns the
// outer HTML of the element.
func (s *Session) Select(loc, text string) (string, error) {
	_, doc := s.hist.Current()
	n, err := locator.ResolveString(doc, loc)
	if err != nil {
		return "", err
	}
	var ev locator.Event = locator.ElementSelected{Selector: loc}
	if strings.TrimSpace(text) != "" {
		ev = locator.TextSelected{Selector: loc, Text: text}
	}
	s.SetEditMode(true)
	s.HandleEvent(ev)
	return locator.OuterHTML(n), nil
}

// SetEditMode turns edit mode on or off. Leaving edit mode drops the
// pending selection.
func (s *Session) SetEditMode(on bool) {
	s.mu.Lock()
	s.editMode = on
	s.mu.Unlock()
	if !on {
		s.sel.Clear()
	}
	s.publish(context.Background(), update.KindState)
}

// ClearSelection drops the pending selection.
func (s *Session) ClearSelection() {
	s.sel.Clear()
	s.publish(context.Background(), update.KindState)
}

// SelectVersion moves the current pointer to version i.
func (s *Session) SelectVersion(i int) error {
	if s.Busy() {
		return ErrBusy
	}
	if err := s.hist.Select(i); err != nil {
		if errors.Is(err, history.ErrSpeculativeOpen) {
			return ErrBusy
		}
		return err
	}
	s.publish(context.Background(), update.KindHistory)
	return nil
}

// ReplaceCurrent overwrites the current snapshot, as the code editor does.
func (s *Session) ReplaceCurrent(doc string) error {
	if s.Busy() {
		return ErrBusy
	}
	if err := s.hist.SetCurrent(doc); err != nil {
		if errors.Is(err, history.ErrSpeculativeOpen) {
			return ErrBusy
		}
		return err
	}
	s.publish(context.Background(), update.KindHistory)
	return nil
}

// Current returns the current version index and snapshot.
func (s *Session) Current() (int, string) {
	return s.hist.Current()
}

// At returns snapshot i.
func (s *Session) At(i int) (string, error) {
	return s.hist.At(i)
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// State returns the user-visible session state.
func (s *Session) State() update.State {
	versions, cur := s.hist.Versions()
	st := update.State{Current: cur, Versions: len(versions)}
	if sel, ok := s.sel.Pending(); ok {
		st.Selection = &sel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.EditMode = s.editMode
	st.Error = s.errMsg
	st.CredentialRequired = s.credReq
	if s.active != nil {
		st.Busy = true
		st.Operation = s.active.op
		st.RequestID = s.active.id
	}
	return st
}

// Versions summarises every snapshot.
func (s *Session) Versions() []VersionSummary {
	docs, cur := s.hist.Versions()
	out := make([]VersionSummary, len(docs))
	for i, d := range docs {
		title, excerpt := Summarize(d)
		out[i] = VersionSummary{Index: i, Current: i == cur, Title: title, Excerpt: excerpt, Bytes: len(d)}
	}
	return out
}

// CredentialUpdated clears the credential prompt after a new key was stored.
func (s *Session) CredentialUpdated() {
	s.mu.Lock()
	s.credReq = false
	if s.errMsg == msgMissingKey {
		s.errMsg = ""
	}
	s.mu.Unlock()
	s.publish(context.Background(), update.KindState)
}

func (s *Session) model(m string) string {
	if m = strings.TrimSpace(m); m == "" {
		return s.cfg.DefaultModel
	}
	return m
}

func (s *Session) backend(ctx context.Context) (llm.Backend, error) {
	key, err := s.deps.Credentials.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	return s.deps.Backends.Backend(key)
}

// start makes a new request the active one. A request still in flight is
// cancelled and its speculative entry rolled back, so its remaining writes
// fail as stale.
func (s *Session) start(ctx context.Context, op string, keepEditMode bool) (*request, context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r := &request{id: s.cfg.RequestIDs(), op: op, cancel: cancel}
	rctx = kit.WithRequestID(rctx, r.id)

	s.mu.Lock()
	if prev := s.active; prev != nil {
		prev.cancel()
		if prev.ticket != nil {
			if err := s.hist.Rollback(*prev.ticket); err != nil {
				s.cfg.Logger.Debug("builder: rollback of superseded request", "request_id", prev.id, "error", err)
			}
		}
		s.cfg.Logger.Info("builder: request superseded", "request_id", prev.id, "by", r.id)
	}
	s.active = r
	s.errMsg = ""
	s.credReq = false
	if !keepEditMode {
		s.editMode = false
		s.sel.Clear()
	}
	s.mu.Unlock()

	s.publish(rctx, update.KindState)
	return r, rctx
}

// finish commits the speculative entry of r.
func (s *Session) finish(ctx context.Context, r *request, log *slog.Logger) error {
	s.mu.Lock()
	if s.active != r {
		s.mu.Unlock()
		r.cancel()
		return ErrSuperseded
	}
	if r.ticket != nil {
		if err := s.hist.Commit(*r.ticket); err != nil {
			s.mu.Unlock()
			return s.fail(ctx, r, err, log)
		}
	}
	s.active = nil
	if r.op == OpEdit {
		s.sel.Clear()
	}
	s.mu.Unlock()
	r.cancel()

	log.Info("builder: request committed")
	s.publish(ctx, update.KindHistory)
	s.publish(ctx, update.KindState)
	return nil
}

// fail is the single cleanup path of a started request.
func (s *Session) fail(ctx context.Context, r *request, cause error, log *slog.Logger) error {
	defer r.cancel()

	s.mu.Lock()
	if s.active != r || errors.Is(cause, history.ErrStale) {
		s.mu.Unlock()
		log.Debug("builder: stale request ended", "error", cause)
		return ErrSuperseded
	}
	if r.ticket != nil {
		if err := s.hist.Rollback(*r.ticket); err != nil {
			log.Debug("builder: rollback of failed request", "error", err)
		}
	}
	s.active = nil
	if r.op == OpEdit {
		s.sel.Clear()
	}
	msg := s.message(r.op, cause)
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		msg = msgCancelled
	}
	s.errMsg = msg
	s.credReq = CredentialRequired(cause)
	s.mu.Unlock()

	log.Warn("builder: request failed", "error", cause)
	s.publish(context.Background(), update.KindHistory)
	s.publish(context.Background(), update.KindState)
	return &Error{Op: r.op, Message: msg, Err: cause}
}

// reject records an error raised before any request started.
func (s *Session) reject(op string, cause error, msg string) error {
	s.mu.Lock()
	s.errMsg = msg
	s.credReq = CredentialRequired(cause)
	s.mu.Unlock()
	s.publish(context.Background(), update.KindState)
	return &Error{Op: op, Message: msg, Err: cause}
}

func (s *Session) message(op string, err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential), errors.Is(err, llm.ErrNoAPIKey):
		return msgMissingKey
	case errors.Is(err, codec.ErrMalformedEditResponse):
		return msgMalformed
	case errors.Is(err, patch.ErrEditAlignment):
		return msgAlignment
	case errors.Is(err, ErrNoSelection):
		return msgNoSelection
	case op == OpEdit:
		return msgEditFailed + err.Error()
	default:
		return msgGenerateFailed + err.Error()
	}
}

// publish sends one update. Sink failures are logged by the sink itself and
// never fail the request.
func (s *Session) publish(ctx context.Context, kind update.Kind) {
	docs, cur := s.hist.Versions()
	u := update.Update{
		ID:        s.cfg.UpdateIDs(),
		Seq:       s.seq.Add(1),
		Kind:      kind,
		Current:   cur,
		Versions:  len(docs),
		Timestamp: s.cfg.Now().UnixMilli(),
	}
	switch kind {
	case update.KindSnapshot, update.KindHistory:
		u.Document = docs[cur]
		u.Hash = update.HashDocument(u.Document)
	case update.KindState:
		st := s.State()
		u.State = &st
	}
	if err := s.deps.Sink.Send(context.WithoutCancel(ctx), u); err != nil {
		s.cfg.Logger.Debug("builder: publish failed", "kind", kind, "error", err)
	}
}
