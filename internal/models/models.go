package models

import (
	"errors"
	"strings"
	"time"
)

// DAOContract is the pseudo-address used as the counterparty of every simulated transaction.
const DAOContract = "0xDAO...Contract"

type AgentType string

const (
	AgentStrategist AgentType = "strategist"
	AgentEthicist   AgentType = "ethicist"
	AgentOptimizer  AgentType = "optimizer"
)

type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentAnalyzing AgentStatus = "analyzing"
	AgentVoting    AgentStatus = "voting"
	AgentDebating  AgentStatus = "debating"
)

// Agent is one of the fixed automated reviewers.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        AgentType   `json:"type"`
	Description string      `json:"description"`
	Status      AgentStatus `json:"status"`
	Avatar      string      `json:"avatar"`
	Values      []string    `json:"values"`
	Expertise   []string    `json:"expertise"`
}

type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusReviewing ProposalStatus = "reviewing"
	StatusDebating  ProposalStatus = "debating"
	StatusVoting    ProposalStatus = "voting"
	StatusApproved  ProposalStatus = "approved"
	StatusRejected  ProposalStatus = "rejected"
	StatusExecuted  ProposalStatus = "executed"
)

// Valid reports whether s is a known proposal status.
func (s ProposalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReviewing, StatusDebating, StatusVoting,
		StatusApproved, StatusRejected, StatusExecuted:
		return true
	}
	return false
}

// Resolving reports whether entering s records an on-chain transaction.
func (s ProposalStatus) Resolving() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExecuted
}

// InProgress reports whether the proposal is still moving through review.
func (s ProposalStatus) InProgress() bool {
	return s == StatusPending || s == StatusReviewing || s == StatusDebating || s == StatusVoting
}

// CanTransition reports whether a proposal may move from one status to another.
// Nothing moves back to pending.
func CanTransition(from, to ProposalStatus) bool {
	if !to.Valid() {
		return false
	}
	if to == StatusPending && from != StatusPending {
		return false
	}
	return true
}

type ProposalType string

const (
	ProposalFunding     ProposalType = "funding"
	ProposalGovernance  ProposalType = "governance"
	ProposalDevelopment ProposalType = "development"
	ProposalCommunity   ProposalType = "community"
	ProposalOther       ProposalType = "other"
)

func (t ProposalType) Valid() bool {
	switch t {
	case ProposalFunding, ProposalGovernance, ProposalDevelopment, ProposalCommunity, ProposalOther:
		return true
	}
	return false
}

type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteRevise  VoteChoice = "revise"
)

func (v VoteChoice) Valid() bool {
	return v == VoteApprove || v == VoteReject || v == VoteRevise
}

// AgentVote is immutable once appended to a proposal.
type AgentVote struct {
	AgentID   string     `json:"agentId"`
	Vote      VoteChoice `json:"vote"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}

// Proposal is a governance proposal moving through review.
type Proposal struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        ProposalType   `json:"type"`
	Status      ProposalStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Author      string         `json:"author"`
	Budget      string         `json:"budget,omitempty"`
	Timeline    string         `json:"timeline,omitempty"`
	Votes       []AgentVote    `json:"votes"`
	TxHash      string         `json:"txHash,omitempty"`
}

// ApproveCount returns the number of approve votes cast so far.
func (p Proposal) ApproveCount() int {
	n := 0
	for _, v := range p.Votes {
		if v.Vote == VoteApprove {
			n++
		}
	}
	return n
}

var (
	ErrTitleRequired       = errors.New("title is required")
	ErrDescriptionRequired = errors.New("description is required")
	ErrAuthorRequired      = errors.New("author is required")
	ErrInvalidType         = errors.New("invalid proposal type")
)

// Draft is the submission input for a new proposal.
type Draft struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Type        ProposalType `json:"type"`
	Author      string       `json:"author"`
	Budget      string       `json:"budget,omitempty"`
	Timeline    string       `json:"timeline,omitempty"`
}

// Validate checks the fields the submission form requires.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	if strings.TrimSpace(d.Description) == "" {
		return ErrDescriptionRequired
	}
	if strings.TrimSpace(d.Author) == "" {
		return ErrAuthorRequired
	}
	if !d.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

type TransactionType string

const (
	TxProposal  TransactionType = "proposal"
	TxVote      TransactionType = "vote"
	TxExecution TransactionType = "execution"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is one entry in the append-only mock chain ledger.
type Transaction struct {
	Hash       string            `json:"hash"`
	Type       TransactionType   `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Status     TransactionStatus `json:"status"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Value      string            `json:"value,omitempty"`
	GasUsed    string            `json:"gasUsed,omitempty"`
	ProposalID string            `json:"proposalId,omitempty"`
}

type NodeType string

const (
	NodeAgent    NodeType = "agent"
	NodeProposal NodeType = "proposal"
)

// NetworkNode references an agent or a proposal by EntityID; it does not own it.
type NetworkNode struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	EntityID string   `json:"entityId"`
}

type LinkType string

const (
	LinkVote    LinkType = "vote"
	LinkDebate  LinkType = "debate"
	LinkRouting LinkType = "routing"
)

type NetworkLink struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Value  int      `json:"value"`
	Type   LinkType `json:"type"`
}

// Position is a laid-out node coordinate on the drawing surface.
type Position struct {
	NodeID string  `json:"nodeId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Stats summarises proposals for the dashboard header.
type Stats struct {
	Total      int `json:"total"`
	InProgress int `json:"inProgress"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
}
