package deliberation

import "github.com/ILLUVRSE/agentdao/internal/models"

var reasons = map[models.AgentType]map[models.VoteChoice]string{
	models.AgentStrategist: {
		models.VoteApprove: "This aligns with our long-term objectives and growth strategy.",
		models.VoteRevise:  "We need more details on how this impacts our strategic roadmap.",
	},
	models.AgentEthicist: {
		models.VoteApprove: "The proposal meets our ethical standards and community values.",
		models.VoteRevise:  "More consideration needed for diverse community impacts.",
	},
	models.AgentOptimizer: {
		models.VoteApprove: "The implementation is technically sound and resource-efficient.",
		models.VoteRevise:  "The technical specifications need to be optimized for better performance.",
	},
}

// Reason returns the canned justification an agent of type t gives for choice.
// Combinations outside the table yield an empty string.
func Reason(t models.AgentType, choice models.VoteChoice) string {
	return reasons[t][choice]
}
