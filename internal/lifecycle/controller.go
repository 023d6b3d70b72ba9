// Package lifecycle owns every governance mutation: proposal submission,
// status changes, agent votes and the random deliberation trigger. Each
// mutation is applied to the store as one atomic update so the proposal list,
// the transaction ledger and the network graph never disagree.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ILLUVRSE/agentdao/internal/chain"
	"github.com/ILLUVRSE/agentdao/internal/deliberation"
	"github.com/ILLUVRSE/agentdao/internal/ledger"
	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/network"
	"github.com/ILLUVRSE/agentdao/internal/notify"
	"github.com/ILLUVRSE/agentdao/internal/scheduler"
	"github.com/ILLUVRSE/agentdao/internal/store"
)

var (
	ErrInvalidStatus      = errors.New("invalid proposal status")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidVote        = errors.New("invalid vote")
	ErrNoPendingProposals = errors.New("no pending proposals")
)

// Exporter receives every appended transaction in ledger order.
// *ledger.Streamer implements it.
type Exporter interface {
	Enqueue(tx models.Transaction)
}

type Options struct {
	Store     *store.MemoryStore
	Scheduler scheduler.Scheduler

	// Seed drives transaction hashes, agent votes and the random trigger pick.
	// Zero seeds from the clock.
	Seed int64

	Deliberation deliberation.Config
	Notifier     notify.Notifier

	// Exporter and Chain are optional.
	Exporter Exporter
	Chain    chain.Submitter

	// ChainTimeout bounds each asynchronous chain submission. Defaults to 30s.
	ChainTimeout time.Duration

	Logger *log.Logger
}

// Controller is the single authoritative mutator of governance state.
type Controller struct {
	store        *store.MemoryStore
	sched        scheduler.Scheduler
	recorder     *ledger.Recorder
	engine       *deliberation.Engine
	notifier     notify.Notifier
	exporter     Exporter
	chain        chain.Submitter
	chainTimeout time.Duration
	logger       *log.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	chainWG sync.WaitGroup
}

func New(opts Options) *Controller {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	root := rand.New(rand.NewSource(seed))

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[lifecycle] ", log.LstdFlags)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore(store.State{})
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.NewReal(0)
	}
	chainTimeout := opts.ChainTimeout
	if chainTimeout <= 0 {
		chainTimeout = 30 * time.Second
	}

	c := &Controller{
		store:        st,
		sched:        sched,
		recorder:     ledger.NewRecorder(rand.New(rand.NewSource(root.Int63())), sched.Now),
		notifier:     notifier,
		exporter:     opts.Exporter,
		chain:        opts.Chain,
		chainTimeout: chainTimeout,
		logger:       logger,
		rng:          rand.New(rand.NewSource(root.Int63())),
	}
	engineLogger := log.New(logger.Writer(), "[deliberation] ", logger.Flags())
	c.engine = deliberation.New(c, sched, rand.New(rand.NewSource(root.Int63())), opts.Deliberation, engineLogger)
	return c
}

// Engine exposes the deliberation engine driven by this controller.
func (c *Controller) Engine() *deliberation.Engine {
	return c.engine
}

func (c *Controller) now() time.Time {
	return c.sched.Now()
}

// appendTx records tx in s and hands it to the exporter. Callers hold the
// store lock, so export order matches ledger order.
func (c *Controller) appendTx(s store.State, tx models.Transaction) store.State {
	s = store.Reduce(s, store.TransactionAppended{Transaction: tx})
	if c.exporter != nil {
		c.exporter.Enqueue(tx)
	}
	return s
}

// SubmitProposal creates a pending proposal from d together with its
// proposal transaction, network node and routing links, then schedules its
// deliberation. Input is not validated here.
func (c *Controller) SubmitProposal(ctx context.Context, d models.Draft) (string, error) {
	var id string
	c.store.Update(func(s store.State) store.State {
		id = s.NextProposalID()
		// Claimed under the store lock so a concurrent trigger never picks it.
		if err := c.engine.Reserve(id); err != nil {
			c.logger.Printf("reserve deliberation for %s: %v", id, err)
		}
		at := c.now()
		s = store.Reduce(s, store.ProposalSubmitted{Proposal: models.Proposal{
			ID:          id,
			Title:       d.Title,
			Description: d.Description,
			Type:        d.Type,
			Status:      models.StatusPending,
			CreatedAt:   at,
			UpdatedAt:   at,
			Author:      d.Author,
			Budget:      d.Budget,
			Timeline:    d.Timeline,
			Votes:       []models.AgentVote{},
		}})
		return c.appendTx(s, c.recorder.New(models.TxProposal, d.Author, models.DAOContract, id))
	})

	c.notifier.Notify("Proposal Submitted", "Your proposal has been submitted to the DAO", notify.LevelSuccess)

	if err := c.engine.Schedule(id); err != nil {
		c.logger.Printf("schedule deliberation for %s: %v", id, err)
	}
	c.submitToChain(ctx, chain.Submission{
		Method: "dao_submitProposal",
		Params: map[string]any{
			"proposalId": id,
			"title":      d.Title,
			"type":       string(d.Type),
			"author":     d.Author,
		},
	})
	return id, nil
}

// UpdateStatus moves a proposal to status. Entering approved, rejected or
// executed appends a resolving transaction and stamps its hash on the
// proposal. Unknown proposal ids are ignored.
func (c *Controller) UpdateStatus(ctx context.Context, id string, status models.ProposalStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		err      error
		resolved bool
		txHash   string
	)
	c.store.Update(func(s store.State) store.State {
		p, _, ok := s.FindProposal(id)
		if !ok {
			return s
		}
		if !models.CanTransition(p.Status, status) {
			err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
			return s
		}
		s = store.Reduce(s, store.StatusChanged{ProposalID: id, Status: status, At: c.now()})
		if !status.Resolving() {
			return s
		}
		typ := models.TxVote
		if status == models.StatusExecuted {
			typ = models.TxExecution
		}
		tx := c.recorder.New(typ, models.DAOContract, models.DAOContract, id)
		s = c.appendTx(s, tx)
		s = store.Reduce(s, store.TxHashStamped{ProposalID: id, Hash: tx.Hash})
		resolved, txHash = true, tx.Hash
		return s
	})
	if err != nil {
		return err
	}
	if !resolved {
		return nil
	}

	level := notify.LevelSuccess
	if status == models.StatusRejected {
		level = notify.LevelWarning
	}
	c.notifier.Notify(
		fmt.Sprintf("Proposal %s", status),
		fmt.Sprintf("The proposal has been %s and recorded on-chain", status),
		level,
	)
	c.submitToChain(ctx, chain.Submission{
		Method: "dao_resolveProposal",
		Params: map[string]any{"proposalId": id, "status": string(status), "txHash": txHash},
	})
	return nil
}

// RecordVote appends an agent vote, its vote transaction and the vote link.
// Unknown proposal ids are ignored. An agent may vote on a proposal more than
// once; every vote is kept while the graph holds a single vote link.
func (c *Controller) RecordVote(ctx context.Context, id, agentID string, vote models.VoteChoice, reason string) error {
	if !vote.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVote, vote)
	}

	recorded := false
	c.store.Update(func(s store.State) store.State {
		if _, _, ok := s.FindProposal(id); !ok {
			return s
		}
		s = store.Reduce(s, store.VoteAppended{ProposalID: id, Vote: models.AgentVote{
			AgentID:   agentID,
			Vote:      vote,
			Reason:    reason,
			Timestamp: c.now(),
		}})
		recorded = true
		return c.appendTx(s, c.recorder.New(models.TxVote, agentID, models.DAOContract, id))
	})
	if !recorded {
		return nil
	}

	c.notifier.Notify(
		fmt.Sprintf("Agent %s Voted", agentNumber(agentID)),
		fmt.Sprintf("Agent voted to %s proposal %s", vote, id),
		notify.LevelInfo,
	)
	return nil
}

func agentNumber(agentID string) string {
	if _, n, ok := strings.Cut(agentID, "-"); ok {
		return n
	}
	return agentID
}

// SetAgentsStatus sets every agent to status.
func (c *Controller) SetAgentsStatus(status models.AgentStatus) {
	c.store.Dispatch(store.AgentsStatusSet{Status: status})
}

// TriggerRandomDeliberation picks a random pending proposal that is not
// already being deliberated, moves it to reviewing and starts its run.
func (c *Controller) TriggerRandomDeliberation(ctx context.Context) (string, error) {
	var id string
	c.store.Update(func(s store.State) store.State {
		var candidates []string
		for _, p := range s.Proposals {
			if p.Status == models.StatusPending && !c.engine.Active(p.ID) {
				candidates = append(candidates, p.ID)
			}
		}
		c.rngMu.Lock()
		defer c.rngMu.Unlock()
		for len(candidates) > 0 {
			i := c.rng.Intn(len(candidates))
			if c.engine.Reserve(candidates[i]) == nil {
				id = candidates[i]
				return store.Reduce(s, store.StatusChanged{ProposalID: id, Status: models.StatusReviewing, At: c.now()})
			}
			candidates = append(candidates[:i], candidates[i+1:]...)
		}
		return s
	})

	if id == "" {
		c.notifier.Notify("No pending proposals", "All proposals have been processed by the agents", notify.LevelInfo)
		return "", ErrNoPendingProposals
	}
	if err := c.engine.Start(id); err != nil {
		c.engine.Release(id)
		return "", fmt.Errorf("start deliberation for %s: %w", id, err)
	}
	return id, nil
}

// SelectProposal sets the UI focus. An empty id clears it.
func (c *Controller) SelectProposal(id string) {
	c.store.Dispatch(store.ProposalSelected{ProposalID: id})
}

// SelectedProposal returns the live focused proposal, or nil when nothing or
// an unknown id is selected.
func (c *Controller) SelectedProposal() *models.Proposal {
	s := c.store.Snapshot()
	if s.SelectedID == "" {
		return nil
	}
	p, _, ok := s.FindProposal(s.SelectedID)
	if !ok {
		return nil
	}
	return &p
}

// submitToChain forwards sub in the background. Failures are notified and
// never touch local state.
func (c *Controller) submitToChain(ctx context.Context, sub chain.Submission) {
	if c.chain == nil {
		return
	}
	c.chainWG.Add(1)
	go func() {
		defer c.chainWG.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.chainTimeout)
		defer cancel()
		hash, err := c.chain.Submit(cctx, sub)
		if err != nil {
			c.logger.Printf("chain %s: %v", sub.Method, err)
			c.notifier.Notify("Transaction failed", err.Error(), notify.LevelError)
			return
		}
		c.logger.Printf("chain %s accepted tx=%s", sub.Method, hash)
	}()
}

// WaitChain blocks until in-flight chain submissions finish.
func (c *Controller) WaitChain() {
	c.chainWG.Wait()
}

func (c *Controller) Snapshot() store.State {
	return c.store.Snapshot()
}

func (c *Controller) Agents() []models.Agent {
	return c.store.Agents()
}

func (c *Controller) Agent(id string) (models.Agent, error) {
	return c.store.Agent(id)
}

func (c *Controller) Proposals() []models.Proposal {
	return c.store.Proposals()
}

func (c *Controller) Proposal(id string) (models.Proposal, error) {
	return c.store.Proposal(id)
}

func (c *Controller) Transactions() []models.Transaction {
	return c.store.Transactions()
}

func (c *Controller) Network() network.Graph {
	return c.store.Snapshot().Network
}

// ActiveRuns lists deliberations in flight.
func (c *Controller) ActiveRuns() []deliberation.Run {
	return c.engine.ActiveRuns()
}
