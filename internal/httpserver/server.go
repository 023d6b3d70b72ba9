package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ILLUVRSE/agentdao/internal/analysis"
	"github.com/ILLUVRSE/agentdao/internal/auth"
	"github.com/ILLUVRSE/agentdao/internal/ledger"
	"github.com/ILLUVRSE/agentdao/internal/lifecycle"
	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/notify"
	"github.com/ILLUVRSE/agentdao/internal/store"
)

const (
	codeBadRequest = "DAO_BAD_REQUEST"
	codeNotFound   = "DAO_NOT_FOUND"
	codeConflict   = "DAO_CONFLICT"
	codeInternal   = "DAO_INTERNAL"
	codeUnavail    = "DAO_UNAVAILABLE"
	codeUpstream   = "DAO_UPSTREAM"

	defaultLayoutWidth  = 800
	defaultLayoutHeight = 600
	maxBodyBytes        = 64 * 1024
)

// Pinger is an optional dependency reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	ctrl     *lifecycle.Controller
	verifier *auth.Verifier
	feed     *notify.Feed
	archive  Pinger
	analyzer analysis.Analyzer
}

// New builds the API server. feed and archive may be nil.
func New(ctrl *lifecycle.Controller, verifier *auth.Verifier, feed *notify.Feed, archive Pinger) *Server {
	return &Server{
		ctrl:     ctrl,
		verifier: verifier,
		feed:     feed,
		archive:  archive,
	}
}

// WithAnalyzer enables POST /agents/{id}/analyze.
func (s *Server) WithAnalyzer(a analysis.Analyzer) *Server {
	s.analyzer = a
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Post("/proposals", s.handleSubmitProposal)
		r.Post("/proposals/{id}/status", s.handleUpdateStatus)
		r.Post("/proposals/{id}/votes", s.handleRecordVote)
		r.Post("/simulate", s.handleSimulate)
		r.Put("/selection", s.handleSelect)
		r.Post("/agents/{id}/analyze", s.handleAnalyze)
	})

	r.Get("/agents", s.handleListAgents)
	r.Get("/agents/{id}", s.handleGetAgent)
	r.Get("/proposals", s.handleListProposals)
	r.Get("/proposals/{id}", s.handleGetProposal)
	r.Get("/selection", s.handleGetSelection)
	r.Get("/transactions", s.handleListTransactions)
	r.Get("/network", s.handleNetwork)
	r.Get("/network/layout", s.handleLayout)
	r.Get("/stats", s.handleStats)
	r.Get("/runs", s.handleRuns)
	r.Get("/notifications", s.handleNotifications)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"ok":         true,
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
		"activeRuns": len(s.ctrl.ActiveRuns()),
	}
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.archive.Ping(ctx); err != nil {
			status["ok"] = false
			status["db"] = "down"
			status["error"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["db"] = "up"
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Agents())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	act, err := s.ctrl.AgentActivity(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, act)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		respondError(w, http.StatusServiceUnavailable, codeUnavail, "agent analysis not configured")
		return
	}
	agent, err := s.ctrl.Agent(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, "agent not found")
		return
	}
	var req analysis.Request
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid json")
		return
	}
	answer, err := s.analyzer.Analyze(r.Context(), agent, req)
	switch {
	case errors.Is(err, analysis.ErrEmptyPrompt):
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, codeUpstream, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"agentId":  agent.ID,
		"response": answer,
	})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	q := lifecycle.ProposalQuery{
		Status: models.ProposalStatus(r.URL.Query().Get("status")),
		Type:   models.ProposalType(r.URL.Query().Get("type")),
		Search: r.URL.Query().Get("q"),
	}
	if q.Status != "" && !q.Status.Valid() {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid status filter")
		return
	}
	if q.Type != "" && !q.Type.Valid() {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid type filter")
		return
	}
	respondJSON(w, http.StatusOK, s.ctrl.FilterProposals(q))
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctrl.Proposal(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "proposal not found")
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var draft models.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err := draft.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	id, err := s.ctrl.SubmitProposal(r.Context(), draft)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"proposalId": id})
}

type statusRequest struct {
	Status models.ProposalStatus `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if _, err := s.ctrl.Proposal(id); err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, "proposal not found")
		return
	}
	if err := s.ctrl.UpdateStatus(r.Context(), id, req.Status); err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrInvalidStatus):
			respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			respondError(w, http.StatusConflict, codeConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		}
		return
	}
	s.respondProposal(w, http.StatusOK, id)
}

type voteRequest struct {
	AgentID string            `json:"agentId"`
	Vote    models.VoteChoice `json:"vote"`
	Reason  string            `json:"reason"`
}

func (s *Server) handleRecordVote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if _, err := s.ctrl.Proposal(id); err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, "proposal not found")
		return
	}
	if _, err := s.ctrl.Agent(req.AgentID); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "unknown agent")
		return
	}
	if err := s.ctrl.RecordVote(r.Context(), id, req.AgentID, req.Vote, req.Reason); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidVote) {
			respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	s.respondProposal(w, http.StatusCreated, id)
}

func (s *Server) respondProposal(w http.ResponseWriter, status int, id string) {
	p, err := s.ctrl.Proposal(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	respondJSON(w, status, p)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	id, err := s.ctrl.TriggerRandomDeliberation(r.Context())
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoPendingProposals) {
			respondError(w, http.StatusConflict, codeConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"proposalId": id})
}

type selectionRequest struct {
	ProposalID *string `json:"proposalId"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	id := ""
	if req.ProposalID != nil {
		id = *req.ProposalID
	}
	s.ctrl.SelectProposal(id)
	s.handleGetSelection(w, r)
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"proposal": s.ctrl.SelectedProposal()})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := ledger.Query{
		Type:   models.TransactionType(r.URL.Query().Get("type")),
		Status: models.TransactionStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("q"),
	}
	respondJSON(w, http.StatusOK, s.ctrl.FilterTransactions(q))
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Network())
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	width, err := floatParam(r, "width", defaultLayoutWidth)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid width")
		return
	}
	height, err := floatParam(r, "height", defaultLayoutHeight)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid height")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"width":     width,
		"height":    height,
		"positions": s.ctrl.Layout(width, height),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.ActiveRuns())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		respondJSON(w, http.StatusOK, []notify.Notification{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, codeBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, s.feed.Recent(limit))
}

func floatParam(r *http.Request, key string, fallback float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return f, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}
