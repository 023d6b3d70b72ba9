package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

func TestRunSimulationResolvesEveryProposal(t *testing.T) {
	res, err := runSimulation(context.Background(), simulateOptions{Proposals: 4, Seed: 9, Author: "0xA"})
	require.NoError(t, err)

	require.Len(t, res.State.Proposals, 4)
	for _, p := range res.State.Proposals {
		assert.Contains(t, []models.ProposalStatus{models.StatusApproved, models.StatusRejected}, p.Status)
		assert.Len(t, p.Votes, 3)
		assert.NotEmpty(t, p.TxHash)
	}
	// One proposal, three votes and one resolution per proposal.
	assert.Len(t, res.State.Transactions, 4*5)
	for _, a := range res.State.Agents {
		assert.Equal(t, models.AgentIdle, a.Status)
	}
	assert.Equal(t, 4, res.Stats.Total)
	assert.Equal(t, 4, res.Stats.Approved+res.Stats.Rejected)
}

func TestRunSimulationIsDeterministic(t *testing.T) {
	a, err := runSimulation(context.Background(), simulateOptions{Proposals: 3, Seed: 5})
	require.NoError(t, err)
	b, err := runSimulation(context.Background(), simulateOptions{Proposals: 3, Seed: 5})
	require.NoError(t, err)

	ja, _ := json.Marshal(a.State)
	jb, _ := json.Marshal(b.State)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestRunSimulationRejectsNegativeCount(t *testing.T) {
	_, err := runSimulation(context.Background(), simulateOptions{Proposals: -1})
	assert.Error(t, err)
}

func TestSimulateCommandPrintsJSON(t *testing.T) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs([]string{"simulate", "--proposals", "1", "--seed", "3"})
	require.NoError(t, RootCmd.Execute())

	var res simulation
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Len(t, res.State.Proposals, 1)
}
