// Package network maintains the agent/proposal graph and its circular display layout.
// Every function is pure: it takes a Graph value and returns a new one without
// touching the input slices.
package network

import (
	"fmt"
	"math"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

// Graph is the node/link view of agents, proposals and their interactions.
type Graph struct {
	Nodes []models.NetworkNode `json:"nodes"`
	Links []models.NetworkLink `json:"links"`
}

// Clone returns a copy that shares no backing arrays with g.
func (g Graph) Clone() Graph {
	return Graph{
		Nodes: append([]models.NetworkNode{}, g.Nodes...),
		Links: append([]models.NetworkLink{}, g.Links...),
	}
}

func nextNodeID(g Graph) string {
	return fmt.Sprintf("node-%d", len(g.Nodes)+1)
}

// WithAgents appends one agent node per agent.
func WithAgents(g Graph, agents []models.Agent) Graph {
	out := g.Clone()
	for _, a := range agents {
		out.Nodes = append(out.Nodes, models.NetworkNode{
			ID:       nextNodeID(out),
			Type:     models.NodeAgent,
			EntityID: a.ID,
		})
	}
	return out
}

// AddProposal appends a proposal node and routes it to every agent node.
// It returns the updated graph and the new node id.
func AddProposal(g Graph, proposalID string) (Graph, string) {
	out := g.Clone()
	nodeID := nextNodeID(out)
	for _, n := range g.Nodes {
		if n.Type != models.NodeAgent {
			continue
		}
		out.Links = append(out.Links, models.NetworkLink{
			Source: n.ID,
			Target: nodeID,
			Value:  1,
			Type:   models.LinkRouting,
		})
	}
	out.Nodes = append(out.Nodes, models.NetworkNode{
		ID:       nodeID,
		Type:     models.NodeProposal,
		EntityID: proposalID,
	})
	return out, nodeID
}

// UpsertVoteLink replaces any existing vote link between the agent's node and the
// proposal's node with a single fresh one. Missing nodes leave g unchanged.
func UpsertVoteLink(g Graph, agentID, proposalID string) Graph {
	agentNode, ok := NodeForEntity(g, models.NodeAgent, agentID)
	if !ok {
		return g
	}
	proposalNode, ok := NodeForEntity(g, models.NodeProposal, proposalID)
	if !ok {
		return g
	}
	out := Graph{
		Nodes: append([]models.NetworkNode{}, g.Nodes...),
		Links: make([]models.NetworkLink, 0, len(g.Links)+1),
	}
	for _, l := range g.Links {
		if l.Source == agentNode.ID && l.Target == proposalNode.ID && l.Type == models.LinkVote {
			continue
		}
		out.Links = append(out.Links, l)
	}
	out.Links = append(out.Links, models.NetworkLink{
		Source: agentNode.ID,
		Target: proposalNode.ID,
		Value:  1,
		Type:   models.LinkVote,
	})
	return out
}

// NodeForEntity finds the node of the given type that references entityID.
func NodeForEntity(g Graph, typ models.NodeType, entityID string) (models.NetworkNode, bool) {
	for _, n := range g.Nodes {
		if n.Type == typ && n.EntityID == entityID {
			return n, true
		}
	}
	return models.NetworkNode{}, false
}

// LinksOf returns every link touching nodeID in insertion order.
func LinksOf(g Graph, nodeID string) []models.NetworkLink {
	var out []models.NetworkLink
	for _, l := range g.Links {
		if l.Source == nodeID || l.Target == nodeID {
			out = append(out, l)
		}
	}
	return out
}

// CountLinks counts links of the given type.
func CountLinks(g Graph, typ models.LinkType) int {
	n := 0
	for _, l := range g.Links {
		if l.Type == typ {
			n++
		}
	}
	return n
}

// Layout places nodes evenly around a circle centred on the drawing surface.
// The radius is 0.8 of the smaller half-dimension and node i sits at angle 2πi/n.
func Layout(nodes []models.NetworkNode, width, height float64) []models.Position {
	if len(nodes) == 0 {
		return []models.Position{}
	}
	cx, cy := width/2, height/2
	radius := math.Min(cx, cy) * 0.8
	out := make([]models.Position, len(nodes))
	for i, n := range nodes {
		angle := 2 * math.Pi * float64(i) / float64(len(nodes))
		out[i] = models.Position{
			NodeID: n.ID,
			X:      cx + radius*math.Cos(angle),
			Y:      cy + radius*math.Sin(angle),
		}
	}
	return out
}
