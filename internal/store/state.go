package store

import (
	"fmt"
	"time"

	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/network"
)

// State is the single source of truth for agents, proposals, the transaction
// ledger and the network graph. Values are treated as immutable: Reduce
// returns a new State and never writes through slices of its input.
type State struct {
	Agents       []models.Agent       `json:"agents"`
	Proposals    []models.Proposal    `json:"proposals"`
	Transactions []models.Transaction `json:"transactions"`
	Network      network.Graph        `json:"network"`
	SelectedID   string               `json:"selectedProposalId,omitempty"`

	// ProposalSeq is the last assigned proposal number.
	ProposalSeq int `json:"-"`
}

// Clone deep-copies every slice so the result can be handed to readers.
func (s State) Clone() State {
	out := State{
		Agents:       make([]models.Agent, len(s.Agents)),
		Proposals:    make([]models.Proposal, len(s.Proposals)),
		Transactions: append([]models.Transaction{}, s.Transactions...),
		Network:      s.Network.Clone(),
		SelectedID:   s.SelectedID,
		ProposalSeq:  s.ProposalSeq,
	}
	for i, a := range s.Agents {
		a.Values = append([]string{}, a.Values...)
		a.Expertise = append([]string{}, a.Expertise...)
		out.Agents[i] = a
	}
	for i, p := range s.Proposals {
		p.Votes = append([]models.AgentVote{}, p.Votes...)
		out.Proposals[i] = p
	}
	return out
}

// NextProposalID returns the id the next submitted proposal will receive.
func (s State) NextProposalID() string {
	return fmt.Sprintf("prop-%d", s.ProposalSeq+1)
}

// FindProposal returns the proposal with id and its index.
func (s State) FindProposal(id string) (models.Proposal, int, bool) {
	for i, p := range s.Proposals {
		if p.ID == id {
			return p, i, true
		}
	}
	return models.Proposal{}, -1, false
}

// FindAgent returns the agent with id.
func (s State) FindAgent(id string) (models.Agent, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return models.Agent{}, false
}

// Action is a state mutation understood by Reduce.
type Action interface {
	isAction()
}

// ProposalSubmitted adds a proposal and its node with routing links to every agent.
type ProposalSubmitted struct {
	Proposal models.Proposal
}

// StatusChanged moves a proposal to a new status.
type StatusChanged struct {
	ProposalID string
	Status     models.ProposalStatus
	At         time.Time
}

// TxHashStamped records the hash of the transaction that resolved a proposal.
type TxHashStamped struct {
	ProposalID string
	Hash       string
}

// VoteAppended appends a vote to a proposal and upserts the vote link.
type VoteAppended struct {
	ProposalID string
	Vote       models.AgentVote
}

// TransactionAppended appends to the ledger.
type TransactionAppended struct {
	Transaction models.Transaction
}

// AgentsStatusSet sets the status of every agent at once.
type AgentsStatusSet struct {
	Status models.AgentStatus
}

// ProposalSelected sets the UI focus; an empty id clears it.
type ProposalSelected struct {
	ProposalID string
}

func (ProposalSubmitted) isAction()   {}
func (StatusChanged) isAction()       {}
func (TxHashStamped) isAction()       {}
func (VoteAppended) isAction()        {}
func (TransactionAppended) isAction() {}
func (AgentsStatusSet) isAction()     {}
func (ProposalSelected) isAction()    {}

// Reduce applies a to s and returns the resulting state. Actions that reference
// an unknown proposal leave the state unchanged.
func Reduce(s State, a Action) State {
	switch act := a.(type) {
	case ProposalSubmitted:
		p := act.Proposal
		p.Votes = append([]models.AgentVote{}, p.Votes...)
		s.Proposals = append(append([]models.Proposal{}, s.Proposals...), p)
		s.ProposalSeq++
		s.Network, _ = network.AddProposal(s.Network, p.ID)
	case StatusChanged:
		s = updateProposal(s, act.ProposalID, func(p *models.Proposal) {
			p.Status = act.Status
			p.UpdatedAt = act.At
		})
	case TxHashStamped:
		s = updateProposal(s, act.ProposalID, func(p *models.Proposal) {
			p.TxHash = act.Hash
		})
	case VoteAppended:
		if _, _, ok := s.FindProposal(act.ProposalID); !ok {
			return s
		}
		s = updateProposal(s, act.ProposalID, func(p *models.Proposal) {
			p.Votes = append(append([]models.AgentVote{}, p.Votes...), act.Vote)
			p.UpdatedAt = act.Vote.Timestamp
		})
		s.Network = network.UpsertVoteLink(s.Network, act.Vote.AgentID, act.ProposalID)
	case TransactionAppended:
		s.Transactions = append(append([]models.Transaction{}, s.Transactions...), act.Transaction)
	case AgentsStatusSet:
		agents := make([]models.Agent, len(s.Agents))
		for i, ag := range s.Agents {
			ag.Status = act.Status
			agents[i] = ag
		}
		s.Agents = agents
	case ProposalSelected:
		s.SelectedID = act.ProposalID
	}
	return s
}

func updateProposal(s State, id string, fn func(p *models.Proposal)) State {
	_, idx, ok := s.FindProposal(id)
	if !ok {
		return s
	}
	proposals := append([]models.Proposal{}, s.Proposals...)
	p := proposals[idx]
	fn(&p)
	proposals[idx] = p
	s.Proposals = proposals
	return s
}
