// Package deliberation drives the automated agent review of a proposal through
// the phases scheduled, analyzing, voting, tally and idle.
package deliberation

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/scheduler"
)

// ErrRunActive is returned when a proposal already has a deliberation in flight.
var ErrRunActive = errors.New("deliberation already running for proposal")

type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseAnalyzing Phase = "analyzing"
	PhaseVoting    Phase = "voting"
	PhaseTally     Phase = "tally"
	PhaseIdle      Phase = "idle"
)

// Governance is the mutation surface the engine drives. The lifecycle
// controller implements it.
type Governance interface {
	Agents() []models.Agent
	Proposal(id string) (models.Proposal, error)
	UpdateStatus(ctx context.Context, id string, status models.ProposalStatus) error
	RecordVote(ctx context.Context, id, agentID string, vote models.VoteChoice, reason string) error
	SetAgentsStatus(status models.AgentStatus)
}

// Config holds the run timing, expressed in time units, and the vote policy.
type Config struct {
	TimeUnit           time.Duration
	ReviewDelay        int
	AnalysisDuration   int
	VoteInterval       int
	TallyGrace         int
	ApproveProbability float64
	ApprovalThreshold  int

	// Decide picks an agent's vote. Nil uses ApproveProbability against the
	// engine's random source, choosing revise otherwise.
	Decide func(agent models.Agent) models.VoteChoice
}

// DefaultConfig returns one-second units with the standard 2/3/2/+1 cadence.
func DefaultConfig() Config {
	return Config{
		TimeUnit:           time.Second,
		ReviewDelay:        2,
		AnalysisDuration:   3,
		VoteInterval:       2,
		TallyGrace:         1,
		ApproveProbability: 0.7,
		ApprovalThreshold:  2,
	}
}

// withDefaults fills unset timing fields. A zero Config means DefaultConfig;
// otherwise ApproveProbability and ApprovalThreshold are taken as given, so
// zero is a real value for both.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.isZero() {
		d.Decide = c.Decide
		return d
	}
	if c.TimeUnit <= 0 {
		c.TimeUnit = d.TimeUnit
	}
	if c.ReviewDelay <= 0 {
		c.ReviewDelay = d.ReviewDelay
	}
	if c.AnalysisDuration <= 0 {
		c.AnalysisDuration = d.AnalysisDuration
	}
	if c.VoteInterval <= 0 {
		c.VoteInterval = d.VoteInterval
	}
	if c.TallyGrace <= 0 {
		c.TallyGrace = d.TallyGrace
	}
	c.ApproveProbability = math.Max(0, math.Min(1, c.ApproveProbability))
	if c.ApprovalThreshold < 0 {
		c.ApprovalThreshold = 0
	}
	return c
}

func (c Config) isZero() bool {
	return c.TimeUnit == 0 && c.ReviewDelay == 0 && c.AnalysisDuration == 0 &&
		c.VoteInterval == 0 && c.TallyGrace == 0 &&
		c.ApproveProbability == 0 && c.ApprovalThreshold == 0
}

func (c Config) units(n int) time.Duration {
	return time.Duration(n) * c.TimeUnit
}

// Run describes an in-flight deliberation.
type Run struct {
	ProposalID string    `json:"proposalId"`
	Phase      Phase     `json:"phase"`
	StartedAt  time.Time `json:"startedAt"`
}

// Engine schedules deliberation runs. Runs for different proposals may
// interleave; agent status is shared between them and the last writer wins.
type Engine struct {
	gov    Governance
	sched  scheduler.Scheduler
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	runs     map[string]*Run
	reserved map[string]bool
}

func New(gov Governance, sched scheduler.Scheduler, rng *rand.Rand, cfg Config, logger *log.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[deliberation] ", log.LstdFlags)
	}
	return &Engine{
		gov:      gov,
		sched:    sched,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		rng:      rng,
		runs:     make(map[string]*Run),
		reserved: make(map[string]bool),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Schedule starts a run after ReviewDelay units, at which point the proposal
// is moved to reviewing.
func (e *Engine) Schedule(proposalID string) error {
	if err := e.acquire(proposalID, PhaseScheduled); err != nil {
		return err
	}
	e.sched.AfterFunc(e.cfg.units(e.cfg.ReviewDelay), func() {
		if err := e.gov.UpdateStatus(context.Background(), proposalID, models.StatusReviewing); err != nil {
			e.logger.Printf("proposal %s: set reviewing: %v", proposalID, err)
		}
		e.analyze(proposalID)
	})
	return nil
}

// Start begins a run immediately. The caller has already set the proposal to reviewing.
func (e *Engine) Start(proposalID string) error {
	if err := e.acquire(proposalID, PhaseAnalyzing); err != nil {
		return err
	}
	e.analyze(proposalID)
	return nil
}

// Reserve claims the run token for proposalID without scheduling anything.
// The next Schedule or Start for the same proposal takes over the
// reservation; Release drops it.
func (e *Engine) Reserve(proposalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[proposalID]; ok {
		return ErrRunActive
	}
	e.runs[proposalID] = &Run{ProposalID: proposalID, Phase: PhaseScheduled, StartedAt: e.sched.Now()}
	e.reserved[proposalID] = true
	return nil
}

// Release drops a reservation that was never started. Running runs are left alone.
func (e *Engine) Release(proposalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reserved[proposalID] {
		delete(e.reserved, proposalID)
		delete(e.runs, proposalID)
	}
}

// Active reports whether proposalID has a run in flight.
func (e *Engine) Active(proposalID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[proposalID]
	return ok
}

// ActiveRuns returns the in-flight runs ordered by start time.
func (e *Engine) ActiveRuns() []Run {
	e.mu.Lock()
	out := make([]Run, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, *r)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ProposalID < out[j].ProposalID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (e *Engine) acquire(proposalID string, phase Phase) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[proposalID]; ok {
		if !e.reserved[proposalID] {
			return ErrRunActive
		}
		delete(e.reserved, proposalID)
	}
	e.runs[proposalID] = &Run{ProposalID: proposalID, Phase: phase, StartedAt: e.sched.Now()}
	return nil
}

func (e *Engine) enter(proposalID string, phase Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[proposalID]; ok {
		r.Phase = phase
	}
}

func (e *Engine) release(proposalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, proposalID)
}

func (e *Engine) analyze(proposalID string) {
	e.enter(proposalID, PhaseAnalyzing)
	e.gov.SetAgentsStatus(models.AgentAnalyzing)
	e.sched.AfterFunc(e.cfg.units(e.cfg.AnalysisDuration), func() {
		e.vote(proposalID)
	})
}

func (e *Engine) vote(proposalID string) {
	e.enter(proposalID, PhaseVoting)
	e.gov.SetAgentsStatus(models.AgentVoting)

	agents := e.gov.Agents()
	for i, agent := range agents {
		agent := agent
		e.sched.AfterFunc(e.cfg.units((i+1)*e.cfg.VoteInterval), func() {
			choice := e.decide(agent)
			if err := e.gov.RecordVote(context.Background(), proposalID, agent.ID, choice, Reason(agent.Type, choice)); err != nil {
				e.logger.Printf("proposal %s: vote by %s: %v", proposalID, agent.ID, err)
			}
		})
	}
	e.sched.AfterFunc(e.cfg.units(len(agents)*e.cfg.VoteInterval+e.cfg.TallyGrace), func() {
		e.tally(proposalID)
	})
}

func (e *Engine) tally(proposalID string) {
	e.enter(proposalID, PhaseTally)
	if p, err := e.gov.Proposal(proposalID); err == nil {
		outcome := Tally(p.Votes, e.cfg.ApprovalThreshold)
		if err := e.gov.UpdateStatus(context.Background(), proposalID, outcome); err != nil {
			e.logger.Printf("proposal %s: resolve %s: %v", proposalID, outcome, err)
		}
	} else {
		e.logger.Printf("proposal %s: tally skipped: %v", proposalID, err)
	}
	e.gov.SetAgentsStatus(models.AgentIdle)
	e.release(proposalID)
}

func (e *Engine) decide(agent models.Agent) models.VoteChoice {
	if e.cfg.Decide != nil {
		return e.cfg.Decide(agent)
	}
	e.mu.Lock()
	roll := e.rng.Float64()
	e.mu.Unlock()
	if roll < e.cfg.ApproveProbability {
		return models.VoteApprove
	}
	return models.VoteRevise
}

// Tally resolves a proposal from its votes: approved when at least threshold
// votes approve, rejected otherwise.
func Tally(votes []models.AgentVote, threshold int) models.ProposalStatus {
	approve := 0
	for _, v := range votes {
		if v.Vote == models.VoteApprove {
			approve++
		}
	}
	if approve >= threshold {
		return models.StatusApproved
	}
	return models.StatusRejected
}
