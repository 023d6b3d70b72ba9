package lifecycle

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/agentdao/internal/chain"
	"github.com/ILLUVRSE/agentdao/internal/deliberation"
	"github.com/ILLUVRSE/agentdao/internal/ledger"
	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/network"
	"github.com/ILLUVRSE/agentdao/internal/notify"
	"github.com/ILLUVRSE/agentdao/internal/scheduler"
	"github.com/ILLUVRSE/agentdao/internal/seed"
	"github.com/ILLUVRSE/agentdao/internal/store"
)

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

type captureExporter struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func (c *captureExporter) Enqueue(tx models.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, tx)
}

type failingChain struct{}

func (failingChain) Submit(context.Context, chain.Submission) (string, error) {
	return "", errors.New("rpc unreachable")
}

type harness struct {
	ctrl     *Controller
	clock    *scheduler.Virtual
	feed     *notify.Feed
	exporter *captureExporter
}

func always(choice models.VoteChoice) func(models.Agent) models.VoteChoice {
	return func(models.Agent) models.VoteChoice { return choice }
}

func sequence(choices ...models.VoteChoice) func(models.Agent) models.VoteChoice {
	var mu sync.Mutex
	i := 0
	return func(models.Agent) models.VoteChoice {
		mu.Lock()
		defer mu.Unlock()
		c := choices[i%len(choices)]
		i++
		return c
	}
}

func newHarness(t *testing.T, initial store.State, decide func(models.Agent) models.VoteChoice, sub chain.Submitter) *harness {
	t.Helper()
	clock := scheduler.NewVirtual(t0)
	feed := notify.NewFeed(50, clock.Now)
	exp := &captureExporter{}
	cfg := deliberation.DefaultConfig()
	cfg.Decide = decide
	ctrl := New(Options{
		Store:        store.NewMemoryStore(initial),
		Scheduler:    clock,
		Seed:         7,
		Deliberation: cfg,
		Notifier:     feed,
		Exporter:     exp,
		Chain:        sub,
		Logger:       log.New(io.Discard, "", 0),
	})
	return &harness{ctrl: ctrl, clock: clock, feed: feed, exporter: exp}
}

func titles(ns []notify.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Title
	}
	return out
}

func TestSubmitAndDeliberateEndToEnd(t *testing.T) {
	h := newHarness(t, seed.Initial(false, t0), always(models.VoteApprove), nil)
	ctx := context.Background()
	before := h.ctrl.Network()

	id, err := h.ctrl.SubmitProposal(ctx, models.Draft{
		Title:       "P1",
		Description: "Fund the indexer",
		Type:        models.ProposalFunding,
		Author:      "0xA",
	})
	require.NoError(t, err)
	assert.Equal(t, "prop-1", id)

	// Submission is atomic: proposal, proposal transaction, node and routing links.
	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Proposals, 1)
	p := snap.Proposals[0]
	assert.Equal(t, models.StatusPending, p.Status)
	assert.Equal(t, t0, p.CreatedAt)
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)
	assert.Empty(t, p.Votes)
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, models.TxProposal, snap.Transactions[0].Type)
	assert.Equal(t, "0xA", snap.Transactions[0].From)
	assert.Equal(t, models.DAOContract, snap.Transactions[0].To)
	assert.Equal(t, id, snap.Transactions[0].ProposalID)
	assert.Len(t, snap.Network.Nodes, len(before.Nodes)+1)
	assert.Equal(t, network.CountLinks(before, models.LinkRouting)+len(snap.Agents),
		network.CountLinks(snap.Network, models.LinkRouting))
	assert.Equal(t, []string{"Proposal Submitted"}, titles(h.feed.Recent(0)))

	h.clock.Advance(2 * time.Second)
	p, err = h.ctrl.Proposal(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, p.Status)

	h.clock.RunUntilIdle()

	p, err = h.ctrl.Proposal(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, p.Status)
	require.Len(t, p.Votes, 3)
	for i, v := range p.Votes {
		assert.Equal(t, snap.Agents[i].ID, v.AgentID)
		assert.Equal(t, deliberation.Reason(snap.Agents[i].Type, models.VoteApprove), v.Reason)
	}

	txs := h.ctrl.Transactions()
	require.Len(t, txs, 5)
	votes := 0
	for _, tx := range txs[1:4] {
		if tx.Type == models.TxVote && tx.To == models.DAOContract && tx.From != models.DAOContract {
			votes++
		}
	}
	assert.Equal(t, 3, votes)
	resolving := txs[4]
	assert.Equal(t, models.TxVote, resolving.Type)
	assert.Equal(t, models.DAOContract, resolving.From)
	assert.Equal(t, resolving.Hash, p.TxHash)

	for i := 1; i < len(txs); i++ {
		assert.False(t, txs[i].Timestamp.Before(txs[i-1].Timestamp), "ledger timestamps go backwards at %d", i)
	}
	for _, a := range h.ctrl.Agents() {
		assert.Equal(t, models.AgentIdle, a.Status)
	}
	assert.Equal(t, 3, network.CountLinks(h.ctrl.Network(), models.LinkVote))
	assert.Empty(t, h.ctrl.ActiveRuns())

	assert.Equal(t, txs, h.exporter.txs)
	assert.Equal(t, "Proposal approved", h.feed.Recent(1)[0].Title)
}

func TestDeliberationRejectsWithOneApproval(t *testing.T) {
	h := newHarness(t, seed.Initial(false, t0), sequence(models.VoteApprove, models.VoteRevise, models.VoteRevise), nil)

	id, err := h.ctrl.SubmitProposal(context.Background(), models.Draft{Title: "P", Description: "D", Type: models.ProposalOther, Author: "0xB"})
	require.NoError(t, err)
	h.clock.RunUntilIdle()

	p, err := h.ctrl.Proposal(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, p.Status)
	assert.Equal(t, 1, p.ApproveCount())
	for _, a := range h.ctrl.Agents() {
		assert.Equal(t, models.AgentIdle, a.Status)
	}
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, seed.Initial(false, t0), always(models.VoteApprove), nil)
	ctx := context.Background()
	id, err := h.ctrl.SubmitProposal(ctx, models.Draft{Title: "P", Description: "D", Type: models.ProposalGovernance, Author: "0xC"})
	require.NoError(t, err)

	assert.ErrorIs(t, h.ctrl.UpdateStatus(ctx, id, "archived"), ErrInvalidStatus)
	assert.NoError(t, h.ctrl.UpdateStatus(ctx, "prop-404", models.StatusApproved))
	assert.Len(t, h.ctrl.Transactions(), 1, "unknown ids change nothing")

	h.clock.Advance(time.Second)
	require.NoError(t, h.ctrl.UpdateStatus(ctx, id, models.StatusVoting))
	p, _ := h.ctrl.Proposal(id)
	assert.Equal(t, models.StatusVoting, p.Status)
	assert.Equal(t, t0.Add(time.Second), p.UpdatedAt)
	assert.Empty(t, p.TxHash)
	assert.Len(t, h.ctrl.Transactions(), 1, "non-resolving statuses record nothing")

	assert.ErrorIs(t, h.ctrl.UpdateStatus(ctx, id, models.StatusPending), ErrInvalidTransition)

	require.NoError(t, h.ctrl.UpdateStatus(ctx, id, models.StatusApproved))
	p, _ = h.ctrl.Proposal(id)
	first := p.TxHash
	require.NotEmpty(t, first)

	require.NoError(t, h.ctrl.UpdateStatus(ctx, id, models.StatusExecuted))
	p, _ = h.ctrl.Proposal(id)
	txs := h.ctrl.Transactions()
	last := txs[len(txs)-1]
	assert.Equal(t, models.TxExecution, last.Type)
	assert.Equal(t, models.DAOContract, last.From)
	assert.Equal(t, models.DAOContract, last.To)
	assert.Equal(t, last.Hash, p.TxHash, "the latest resolving transaction wins")
	assert.Equal(t, "Proposal executed", h.feed.Recent(1)[0].Title)
}

func TestRecordVote(t *testing.T) {
	h := newHarness(t, seed.Initial(false, t0), always(models.VoteApprove), nil)
	ctx := context.Background()
	id, err := h.ctrl.SubmitProposal(ctx, models.Draft{Title: "P", Description: "D", Type: models.ProposalCommunity, Author: "0xD"})
	require.NoError(t, err)

	assert.ErrorIs(t, h.ctrl.RecordVote(ctx, id, "agent-1", "abstain", ""), ErrInvalidVote)
	assert.NoError(t, h.ctrl.RecordVote(ctx, "prop-404", "agent-1", models.VoteApprove, "x"))
	assert.Len(t, h.ctrl.Transactions(), 1)

	require.NoError(t, h.ctrl.RecordVote(ctx, id, "agent-2", models.VoteApprove, "first"))
	h.clock.Advance(time.Second)
	require.NoError(t, h.ctrl.RecordVote(ctx, id, "agent-2", models.VoteReject, "second"))

	p, _ := h.ctrl.Proposal(id)
	require.Len(t, p.Votes, 2)
	assert.Equal(t, "first", p.Votes[0].Reason)
	assert.Equal(t, "second", p.Votes[1].Reason)
	assert.Equal(t, t0.Add(time.Second), p.UpdatedAt)

	g := h.ctrl.Network()
	agentNode, ok := network.NodeForEntity(g, models.NodeAgent, "agent-2")
	require.True(t, ok)
	proposalNode, ok := network.NodeForEntity(g, models.NodeProposal, id)
	require.True(t, ok)
	voteLinks := 0
	for _, l := range g.Links {
		if l.Type == models.LinkVote && l.Source == agentNode.ID && l.Target == proposalNode.ID {
			voteLinks++
		}
	}
	assert.Equal(t, 1, voteLinks)

	votesTx := ledger.Filter(h.ctrl.Transactions(), ledger.Query{Type: models.TxVote})
	require.Len(t, votesTx, 2)
	assert.Equal(t, "agent-2", votesTx[0].From)
	assert.Equal(t, "Agent 2 Voted", h.feed.Recent(1)[0].Title)
}

func pendingState(ids ...string) store.State {
	s := seed.Initial(false, t0)
	for _, id := range ids {
		s = store.Reduce(s, store.ProposalSubmitted{Proposal: models.Proposal{
			ID: id, Title: id, Status: models.StatusPending, CreatedAt: t0, UpdatedAt: t0,
		}})
	}
	return s
}

func TestTriggerRandomDeliberation(t *testing.T) {
	h := newHarness(t, pendingState("prop-1", "prop-2"), always(models.VoteApprove), nil)
	ctx := context.Background()

	first, err := h.ctrl.TriggerRandomDeliberation(ctx)
	require.NoError(t, err)
	p, _ := h.ctrl.Proposal(first)
	assert.Equal(t, models.StatusReviewing, p.Status)
	require.Len(t, h.ctrl.ActiveRuns(), 1)
	assert.Equal(t, deliberation.PhaseAnalyzing, h.ctrl.ActiveRuns()[0].Phase)
	for _, a := range h.ctrl.Agents() {
		assert.Equal(t, models.AgentAnalyzing, a.Status)
	}

	second, err := h.ctrl.TriggerRandomDeliberation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	before := h.ctrl.Snapshot()
	_, err = h.ctrl.TriggerRandomDeliberation(ctx)
	assert.ErrorIs(t, err, ErrNoPendingProposals)
	assert.Equal(t, before, h.ctrl.Snapshot())
	assert.Equal(t, "No pending proposals", h.feed.Recent(1)[0].Title)

	h.clock.RunUntilIdle()
	for _, id := range []string{first, second} {
		p, _ := h.ctrl.Proposal(id)
		assert.Equal(t, models.StatusApproved, p.Status)
	}
}

func TestTriggerSkipsReservedProposals(t *testing.T) {
	h := newHarness(t, pendingState("prop-1"), always(models.VoteApprove), nil)
	ctx := context.Background()

	// A submission holds the token from the moment its proposal exists.
	require.NoError(t, h.ctrl.Engine().Reserve("prop-1"))
	_, err := h.ctrl.TriggerRandomDeliberation(ctx)
	assert.ErrorIs(t, err, ErrNoPendingProposals)
	p, _ := h.ctrl.Proposal("prop-1")
	assert.Equal(t, models.StatusPending, p.Status)

	h.ctrl.Engine().Release("prop-1")
	id, err := h.ctrl.TriggerRandomDeliberation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "prop-1", id)
	h.clock.RunUntilIdle()
	p, _ = h.ctrl.Proposal("prop-1")
	assert.Equal(t, models.StatusApproved, p.Status)
}

func TestSubmitHoldsRunTokenBeforeScheduling(t *testing.T) {
	h := newHarness(t, seed.Initial(false, t0), always(models.VoteApprove), nil)
	id, err := h.ctrl.SubmitProposal(context.Background(), models.Draft{Title: "T", Description: "D", Type: models.ProposalOther, Author: "0xA"})
	require.NoError(t, err)

	_, err = h.ctrl.TriggerRandomDeliberation(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingProposals)
	p, _ := h.ctrl.Proposal(id)
	assert.Equal(t, models.StatusPending, p.Status)
	require.Len(t, h.ctrl.ActiveRuns(), 1)
	assert.Equal(t, deliberation.PhaseScheduled, h.ctrl.ActiveRuns()[0].Phase)
}

func TestTriggerIsSeeded(t *testing.T) {
	pick := func() string {
		h := newHarness(t, pendingState("prop-1", "prop-2", "prop-3", "prop-4"), always(models.VoteApprove), nil)
		id, err := h.ctrl.TriggerRandomDeliberation(context.Background())
		require.NoError(t, err)
		return id
	}
	assert.Equal(t, pick(), pick())
}

func TestSelection(t *testing.T) {
	h := newHarness(t, seed.Initial(true, t0), always(models.VoteApprove), nil)
	assert.Nil(t, h.ctrl.SelectedProposal())

	h.ctrl.SelectProposal("prop-3")
	require.NotNil(t, h.ctrl.SelectedProposal())
	assert.Equal(t, "New Developer Bounty Program", h.ctrl.SelectedProposal().Title)

	require.NoError(t, h.ctrl.RecordVote(context.Background(), "prop-3", "agent-3", models.VoteApprove, "late"))
	assert.Len(t, h.ctrl.SelectedProposal().Votes, 3, "selection resolves the live proposal")

	h.ctrl.SelectProposal("prop-404")
	assert.Nil(t, h.ctrl.SelectedProposal())
	h.ctrl.SelectProposal("")
	assert.Nil(t, h.ctrl.SelectedProposal())
}

func TestChainFailureIsNotifiedOnly(t *testing.T) {
	h := newHarness(t, seed.Initial(false, t0), always(models.VoteApprove), failingChain{})
	id, err := h.ctrl.SubmitProposal(context.Background(), models.Draft{Title: "P", Description: "D", Type: models.ProposalOther, Author: "0xE"})
	require.NoError(t, err)
	h.ctrl.WaitChain()

	_, err = h.ctrl.Proposal(id)
	assert.NoError(t, err)
	assert.Len(t, h.ctrl.Transactions(), 1)

	var levels []notify.Level
	for _, n := range h.feed.Recent(0) {
		levels = append(levels, n.Level)
	}
	assert.Contains(t, levels, notify.LevelError)
}

func TestProjections(t *testing.T) {
	h := newHarness(t, seed.Initial(true, t0), always(models.VoteApprove), nil)

	assert.Equal(t, models.Stats{Total: 5, InProgress: 3, Approved: 2, Rejected: 0}, h.ctrl.Stats())

	dev := h.ctrl.FilterProposals(ProposalQuery{Type: models.ProposalDevelopment})
	assert.Len(t, dev, 2)
	search := h.ctrl.FilterProposals(ProposalQuery{Search: "TREASURY"})
	assert.Len(t, search, 2, "matches title and description")
	assert.Len(t, h.ctrl.FilterProposals(ProposalQuery{Status: models.StatusVoting, Search: "bounty"}), 1)

	assert.Len(t, h.ctrl.FilterTransactions(ledger.Query{Search: "prop-3"}), 2)

	act, err := h.ctrl.AgentActivity("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "The Strategist", act.Agent.Name)
	assert.Len(t, act.Votes, 4)
	assert.Len(t, act.Transactions, 2)
	_, err = h.ctrl.AgentActivity("agent-9")
	assert.ErrorIs(t, err, store.ErrNotFound)

	a := h.ctrl.Layout(800, 600)
	b := h.ctrl.Layout(800, 600)
	require.Len(t, a, 8)
	assert.Equal(t, a, b)
	assert.InDelta(t, 400+240, a[0].X, 1e-9)
	assert.InDelta(t, 300, a[0].Y, 1e-9)
}
