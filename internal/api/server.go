// Package api exposes live procedure executions over HTTP.
//
// The server keeps an in-memory registry of running sequencers. The engine is
// single-threaded by design, so every handler serializes through one mutex.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/compress"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/draft"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/engine"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/evidence"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// Options wires a Server.
type Options struct {
	// Templates are the procedure documents executions can be started from.
	Templates []*sop.SOPTemplate

	// Drafts backs interrupted-execution recovery. Defaults to in-memory.
	Drafts draft.Store

	// Compression overrides the engine's default pipeline.
	Compression *compress.Pipeline

	// OnComplete receives the evidence of every completed execution. Defaults
	// to accepting it unconditionally.
	OnComplete engine.CompleteFunc

	Logger *logrus.Entry
}

// Server routes execution lifecycle requests to in-memory sequencers.
type Server struct {
	log *logrus.Entry

	mu        sync.Mutex
	templates map[string]*sop.SOPTemplate
	execs     map[string]*engine.Sequencer

	drafts      draft.Store
	compression *compress.Pipeline
	onComplete  engine.CompleteFunc

	router chi.Router
}

// NewServer builds a Server. Templates are validated lazily, when an
// execution is started from them.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	drafts := opts.Drafts
	if drafts == nil {
		drafts = draft.NewMemStore()
	}
	onComplete := opts.OnComplete
	if onComplete == nil {
		onComplete = func(context.Context, []sop.TaskEvidence) error { return nil }
	}

	s := &Server{
		log:         log,
		templates:   make(map[string]*sop.SOPTemplate),
		execs:       make(map[string]*engine.Sequencer),
		drafts:      drafts,
		compression: opts.Compression,
		onComplete:  onComplete,
	}
	for _, tpl := range opts.Templates {
		s.templates[tpl.ID] = tpl
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/executions", s.handleStart)
	r.Route("/executions/{taskID}", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/audit", s.handleAudit)
		r.Post("/evidence", s.handleEvidence)
		r.Post("/skip", s.handleSkip)
		r.Post("/advance", s.handleAdvance)
		r.Post("/retreat", s.handleRetreat)
		r.Post("/signatures", s.handleSignature)
		r.Post("/complete", s.handleComplete)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

type startRequest struct {
	TemplateID string `json:"template_id"`
	StartedBy  string `json:"started_by"`
	TaskID     string `json:"task_id,omitempty"`
}

type evidenceRequest struct {
	Text           string   `json:"text,omitempty"`
	Selections     []string `json:"selections,omitempty"`
	Payload        []byte   `json:"payload,omitempty"`
	RetainOriginal bool     `json:"retain_original,omitempty"`
}

type skipRequest struct {
	Reason string `json:"reason"`
}

type signatureRequest struct {
	SignerID   string `json:"signer_id"`
	SignerName string `json:"signer_name"`
	Role       string `json:"role"`
	Payload    []byte `json:"payload"`
}

type stepView struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Instructions     string           `json:"instructions,omitempty"`
	SafetyNotes      string           `json:"safety_notes,omitempty"`
	EvidenceRequired bool             `json:"evidence_required"`
	EvidenceType     sop.EvidenceType `json:"evidence_type,omitempty"`
	IsHighRisk       bool             `json:"is_high_risk,omitempty"`
}

type snapshotResponse struct {
	TaskID        string         `json:"task_id"`
	TemplateID    string         `json:"template_id"`
	Status        sop.TaskStatus `json:"status"`
	StepIndex     int            `json:"step_index"`
	StepCount     int            `json:"step_count"`
	AtFinalStep   bool           `json:"at_final_step"`
	CurrentStep   stepView       `json:"current_step"`
	Resumed       bool           `json:"resumed"`
	EvidenceCount int            `json:"evidence_count"`
	MissingRoles  []string       `json:"missing_roles,omitempty"`
}

type submitResponse struct {
	Advanced   bool             `json:"advanced"`
	Branched   bool             `json:"branched"`
	BranchedTo string           `json:"branched_to,omitempty"`
	Compressed bool             `json:"compressed"`
	DraftError string           `json:"draft_error,omitempty"`
	Snapshot   snapshotResponse `json:"snapshot"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "body must carry template_id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[req.TemplateID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown template "+req.TemplateID)
		return
	}

	task := sop.NewTask(tpl.ID, req.StartedBy)
	if req.TaskID != "" {
		// Resuming a known execution: reuse its id so the draft cache entry
		// is found during hydration. A still-registered sequencer may hold
		// pending in-memory signatures; replacing it would drop them.
		if _, live := s.execs[req.TaskID]; live {
			writeError(w, http.StatusConflict, "execution "+req.TaskID+" is already live")
			return
		}
		task.ID = req.TaskID
	}
	seq, err := engine.New(engine.Options{
		Task:        task,
		Template:    tpl,
		Drafts:      s.drafts,
		Compression: s.compression,
		OnComplete:  s.onComplete,
		Logger:      s.log,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.execs[task.ID] = seq
	writeJSON(w, http.StatusCreated, s.snapshotLocked(seq))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotLocked(seq))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, seq.AuditTrail())
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	res, err := seq.SubmitEvidence(r.Context(), evidence.Input{
		Text:           req.Text,
		Selections:     req.Selections,
		Payload:        req.Payload,
		RetainOriginal: req.RetainOriginal,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.submitResponseLocked(seq, res))
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	res, err := seq.Skip(r.Context(), req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.submitResponseLocked(seq, res))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	if _, err := seq.Advance(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotLocked(seq))
}

func (s *Server) handleRetreat(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	if _, err := seq.Retreat(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotLocked(seq))
}

func (s *Server) handleSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	ready, err := seq.SubmitSignature(r.Context(), sop.SignatureArtifact{
		SignerID:   req.SignerID,
		SignerName: req.SignerName,
		Role:       req.Role,
		Payload:    req.Payload,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":         ready,
		"missing_roles": seq.MissingRoles(),
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.execLocked(w, r)
	if !ok {
		return
	}
	if err := seq.Complete(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	items, saved := seq.CompressionSavings()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           seq.Status(),
		"compressed_items": items,
		"compressed_saved": saved,
	})
}

// execLocked resolves the execution from the URL. Callers hold s.mu.
func (s *Server) execLocked(w http.ResponseWriter, r *http.Request) (*engine.Sequencer, bool) {
	id := chi.URLParam(r, "taskID")
	seq, ok := s.execs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown execution "+id)
		return nil, false
	}
	return seq, true
}

func (s *Server) snapshotLocked(seq *engine.Sequencer) snapshotResponse {
	step := seq.CurrentStep()
	return snapshotResponse{
		TaskID:      seq.TaskID(),
		TemplateID:  seq.TemplateID(),
		Status:      seq.Status(),
		StepIndex:   seq.StepIndex(),
		StepCount:   seq.StepCount(),
		AtFinalStep: seq.AtFinalStep(),
		CurrentStep: stepView{
			ID:               step.ID,
			Title:            step.Title,
			Instructions:     step.Instructions,
			SafetyNotes:      step.SafetyNotes,
			EvidenceRequired: step.EvidenceRequired,
			EvidenceType:     step.EvidenceType,
			IsHighRisk:       step.IsHighRisk,
		},
		Resumed:       seq.Resumed(),
		EvidenceCount: len(seq.Evidence()),
		MissingRoles:  seq.MissingRoles(),
	}
}

func (s *Server) submitResponseLocked(seq *engine.Sequencer, res engine.SubmitResult) submitResponse {
	out := submitResponse{
		Advanced:   res.Advanced,
		Branched:   res.Branched,
		BranchedTo: res.BranchedTo,
		Compressed: res.Evidence.Compressed,
		Snapshot:   s.snapshotLocked(seq),
	}
	if res.DraftError != nil {
		out.DraftError = res.DraftError.Error()
	}
	return out
}

// writeEngineError maps engine and validation failures onto HTTP status codes:
// rejected input is 422, state conflicts are 409, backend completion failures
// are 502.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *evidence.ValidationError
	var missing *engine.MissingEvidenceError
	var sigs *engine.SignaturesMissingError
	var cerr *engine.CompletionError
	switch {
	case errors.As(err, &verr),
		errors.As(err, &missing),
		errors.As(err, &sigs),
		errors.Is(err, engine.ErrEvidenceRequired),
		errors.Is(err, engine.ErrSkipNotAllowed),
		errors.Is(err, engine.ErrNotAtFinalStep):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrCompletionInFlight),
		errors.Is(err, engine.ErrTaskFinalized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cerr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
