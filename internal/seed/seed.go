// Package seed provides the fixed reviewer agents and the optional demo
// dataset the service starts with.
package seed

import (
	"time"

	"github.com/ILLUVRSE/agentdao/internal/models"
	"github.com/ILLUVRSE/agentdao/internal/network"
	"github.com/ILLUVRSE/agentdao/internal/store"
)

// Agents returns the three reviewer agents, all idle.
func Agents() []models.Agent {
	return []models.Agent{
		{
			ID:          "agent-1",
			Name:        "The Strategist",
			Type:        models.AgentStrategist,
			Description: "Analyzes proposals for long-term strategic value and alignment with DAO objectives.",
			Status:      models.AgentIdle,
			Avatar:      "👨‍💼",
			Values:      []string{"Innovation", "Growth", "Sustainability"},
			Expertise:   []string{"Strategic Planning", "Resource Allocation", "Risk Assessment"},
		},
		{
			ID:          "agent-2",
			Name:        "The Ethicist",
			Type:        models.AgentEthicist,
			Description: "Evaluates proposals for ethical implications, community impact, and alignment with values.",
			Status:      models.AgentIdle,
			Avatar:      "👩‍⚖️",
			Values:      []string{"Fairness", "Transparency", "Inclusivity"},
			Expertise:   []string{"Ethical Analysis", "Community Engagement", "Governance Standards"},
		},
		{
			ID:          "agent-3",
			Name:        "The Optimizer",
			Type:        models.AgentOptimizer,
			Description: "Focuses on efficiency, resource optimization, and technical feasibility of proposals.",
			Status:      models.AgentIdle,
			Avatar:      "🧠",
			Values:      []string{"Efficiency", "Pragmatism", "Innovation"},
			Expertise:   []string{"Technical Analysis", "Economic Modeling", "Process Optimization"},
		},
	}
}

// Initial returns the starting state: the agents and their nodes, plus the
// demo proposals, ledger and links when withDemo is set.
func Initial(withDemo bool, now time.Time) store.State {
	if withDemo {
		return Demo(now)
	}
	agents := Agents()
	return store.State{
		Agents:  agents,
		Network: network.WithAgents(network.Graph{}, agents),
	}
}

// Demo returns a populated dashboard state with timestamps relative to now.
func Demo(now time.Time) store.State {
	ago := func(ms int) time.Time { return now.Add(-time.Duration(ms) * time.Millisecond) }

	proposals := []models.Proposal{
		{
			ID:          "prop-1",
			Title:       "Community Treasury Allocation for Q2",
			Description: "Proposal to allocate 50,000 tokens from the community treasury to fund development, marketing, and community initiatives for Q2.",
			Type:        models.ProposalFunding,
			Status:      models.StatusReviewing,
			CreatedAt:   ago(1000000),
			UpdatedAt:   ago(500000),
			Author:      "0x1234...5678",
			Budget:      "50,000 tokens",
			Timeline:    "Q2 2025",
			Votes:       []models.AgentVote{},
		},
		{
			ID:          "prop-2",
			Title:       "Governance Framework Update",
			Description: "Proposal to update the governance framework to include multi-signature requirements for treasury transactions exceeding 10,000 tokens.",
			Type:        models.ProposalGovernance,
			Status:      models.StatusDebating,
			CreatedAt:   ago(2000000),
			UpdatedAt:   ago(300000),
			Author:      "0xabcd...ef01",
			Votes: []models.AgentVote{
				{AgentID: "agent-1", Vote: models.VoteApprove, Reason: "This aligns with our strategic goal of improving security and transparency.", Timestamp: ago(400000)},
			},
		},
		{
			ID:          "prop-3",
			Title:       "New Developer Bounty Program",
			Description: "Establish a bounty program to incentivize external developers to contribute to our codebase.",
			Type:        models.ProposalDevelopment,
			Status:      models.StatusVoting,
			CreatedAt:   ago(3000000),
			UpdatedAt:   ago(200000),
			Author:      "0x7890...1234",
			Budget:      "15,000 tokens",
			Timeline:    "Ongoing",
			Votes: []models.AgentVote{
				{AgentID: "agent-1", Vote: models.VoteApprove, Reason: "This will accelerate development and bring fresh perspectives.", Timestamp: ago(250000)},
				{AgentID: "agent-2", Vote: models.VoteApprove, Reason: "The program includes fair compensation and proper attribution.", Timestamp: ago(225000)},
			},
		},
		{
			ID:          "prop-4",
			Title:       "Community Events Budget",
			Description: "Allocate budget for virtual community events, workshops, and hackathons for the next quarter.",
			Type:        models.ProposalCommunity,
			Status:      models.StatusApproved,
			CreatedAt:   ago(4000000),
			UpdatedAt:   ago(100000),
			Author:      "0xdef0...5678",
			Budget:      "8,000 tokens",
			Timeline:    "Next quarter",
			Votes: []models.AgentVote{
				{AgentID: "agent-1", Vote: models.VoteApprove, Reason: "Community engagement is critical for our growth strategy.", Timestamp: ago(150000)},
				{AgentID: "agent-2", Vote: models.VoteApprove, Reason: "Events promote inclusivity and educate the community.", Timestamp: ago(140000)},
				{AgentID: "agent-3", Vote: models.VoteApprove, Reason: "The budget is reasonable for the expected outcomes.", Timestamp: ago(130000)},
			},
			TxHash: "0x1a2b3c4d",
		},
		{
			ID:          "prop-5",
			Title:       "Protocol Upgrade Implementation",
			Description: "Implement the proposed protocol upgrade to improve transaction throughput and reduce gas costs.",
			Type:        models.ProposalDevelopment,
			Status:      models.StatusExecuted,
			CreatedAt:   ago(5000000),
			UpdatedAt:   ago(50000),
			Author:      "0x5678...9abc",
			Votes: []models.AgentVote{
				{AgentID: "agent-1", Vote: models.VoteApprove, Reason: "This upgrade aligns with our technical roadmap.", Timestamp: ago(110000)},
				{AgentID: "agent-2", Vote: models.VoteApprove, Reason: "The upgrade has undergone sufficient security auditing.", Timestamp: ago(100000)},
				{AgentID: "agent-3", Vote: models.VoteApprove, Reason: "This provides significant efficiency improvements.", Timestamp: ago(90000)},
			},
			TxHash: "0xa1b2c3d4",
		},
	}

	transactions := []models.Transaction{
		{Hash: "0x1a2b3c4d", Type: models.TxProposal, Timestamp: ago(1000000), Status: models.TxConfirmed, From: "0x1234...5678", To: models.DAOContract, ProposalID: "prop-1"},
		{Hash: "0xa1b2c3d4", Type: models.TxVote, Timestamp: ago(400000), Status: models.TxConfirmed, From: "agent-1", To: models.DAOContract, ProposalID: "prop-2"},
		{Hash: "0x9e8d7c6b", Type: models.TxVote, Timestamp: ago(250000), Status: models.TxConfirmed, From: "agent-1", To: models.DAOContract, ProposalID: "prop-3"},
		{Hash: "0x0f1e2d3c", Type: models.TxVote, Timestamp: ago(225000), Status: models.TxConfirmed, From: "agent-2", To: models.DAOContract, ProposalID: "prop-3"},
		{Hash: "0x5b4a3928", Type: models.TxExecution, Timestamp: ago(50000), Status: models.TxConfirmed, From: models.DAOContract, To: "0x5678...9abc", Value: "15000", GasUsed: "350000", ProposalID: "prop-5"},
	}

	node := func(id string, typ models.NodeType, entity string) models.NetworkNode {
		return models.NetworkNode{ID: id, Type: typ, EntityID: entity}
	}
	link := func(src, dst string, typ models.LinkType) models.NetworkLink {
		return models.NetworkLink{Source: src, Target: dst, Value: 1, Type: typ}
	}
	graph := network.Graph{
		Nodes: []models.NetworkNode{
			node("node-1", models.NodeAgent, "agent-1"),
			node("node-2", models.NodeAgent, "agent-2"),
			node("node-3", models.NodeAgent, "agent-3"),
			node("node-4", models.NodeProposal, "prop-1"),
			node("node-5", models.NodeProposal, "prop-2"),
			node("node-6", models.NodeProposal, "prop-3"),
			node("node-7", models.NodeProposal, "prop-4"),
			node("node-8", models.NodeProposal, "prop-5"),
		},
		Links: []models.NetworkLink{
			link("node-1", "node-5", models.LinkVote),
			link("node-1", "node-6", models.LinkVote),
			link("node-2", "node-6", models.LinkVote),
			link("node-1", "node-7", models.LinkVote),
			link("node-2", "node-7", models.LinkVote),
			link("node-3", "node-7", models.LinkVote),
			link("node-1", "node-8", models.LinkVote),
			link("node-2", "node-8", models.LinkVote),
			link("node-3", "node-8", models.LinkVote),
			link("node-1", "node-2", models.LinkDebate),
			link("node-2", "node-3", models.LinkDebate),
			link("node-3", "node-1", models.LinkDebate),
			link("node-4", "node-1", models.LinkRouting),
			link("node-4", "node-2", models.LinkRouting),
			link("node-4", "node-3", models.LinkRouting),
		},
	}

	return store.State{
		Agents:       Agents(),
		Proposals:    proposals,
		Transactions: transactions,
		Network:      graph,
		ProposalSeq:  len(proposals),
	}
}
