package lifecycle

import (
	"strings"

	"github.com/ILLUVRSE/agentdao/internal/ledger"
	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/network"
)

// ProposalQuery filters proposals. Empty fields match everything.
type ProposalQuery struct {
	Status models.ProposalStatus
	Type   models.ProposalType
	// Search matches case-insensitively against title and description.
	Search string
}

func (c *Controller) FilterProposals(q ProposalQuery) []models.Proposal {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	all := c.store.Proposals()
	out := make([]models.Proposal, 0, len(all))
	for _, p := range all {
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		if q.Type != "" && p.Type != q.Type {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Title), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Controller) FilterTransactions(q ledger.Query) []models.Transaction {
	return ledger.Filter(c.store.Transactions(), q)
}

// Stats counts proposals by lifecycle bucket.
func (c *Controller) Stats() models.Stats {
	var st models.Stats
	for _, p := range c.store.Proposals() {
		st.Total++
		switch {
		case p.Status.InProgress():
			st.InProgress++
		case p.Status == models.StatusApproved || p.Status == models.StatusExecuted:
			st.Approved++
		case p.Status == models.StatusRejected:
			st.Rejected++
		}
	}
	return st
}

// CastVote is a vote together with the proposal it was cast on.
type CastVote struct {
	ProposalID    string `json:"proposalId"`
	ProposalTitle string `json:"proposalTitle"`
	models.AgentVote
}

// AgentActivity is an agent with its voting history and the transactions it sent.
type AgentActivity struct {
	Agent        models.Agent         `json:"agent"`
	Votes        []CastVote           `json:"votes"`
	Transactions []models.Transaction `json:"transactions"`
}

func (c *Controller) AgentActivity(agentID string) (AgentActivity, error) {
	s := c.store.Snapshot()
	agent, err := c.store.Agent(agentID)
	if err != nil {
		return AgentActivity{}, err
	}
	act := AgentActivity{Agent: agent, Votes: []CastVote{}}
	for _, p := range s.Proposals {
		for _, v := range p.Votes {
			if v.AgentID == agentID {
				act.Votes = append(act.Votes, CastVote{ProposalID: p.ID, ProposalTitle: p.Title, AgentVote: v})
			}
		}
	}
	act.Transactions = ledger.ByAddress(s.Transactions, agentID)
	if act.Transactions == nil {
		act.Transactions = []models.Transaction{}
	}
	return act, nil
}

// Layout places the current network nodes on a circle inside width x height.
func (c *Controller) Layout(width, height float64) []models.Position {
	return network.Layout(c.store.Snapshot().Network.Nodes, width, height)
}
