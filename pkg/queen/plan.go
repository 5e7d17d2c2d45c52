package queen

import (
	"strings"
	"time"

	"github.com/hivemesh/hivemind/pkg/agent"
	"github.com/hivemesh/hivemind/pkg/types"
)

// PlanObjective derives an ordered phase list for an objective. Plans are
// advisory and never persisted; the scheduler works from submitted tasks.
func PlanObjective(objective string) *types.ExecutionPlan {
	topology := ChooseTopology(objective)
	plan := &types.ExecutionPlan{
		Objective: objective,
		Topology:  topology,
	}

	analysis := []types.TaskAssignment{{
		Role:                 types.AgentTypeResearcher,
		RequiredCapabilities: agent.CapabilitiesFor(types.AgentTypeResearcher)[:2],
		Responsibilities:     "gather context and constraints for: " + objective,
		ExpectedOutput:       "findings summary",
		Timeout:              5 * time.Minute,
		CanRunParallel:       true,
	}}
	if keywordIn(objective, "analyze", "analysis", "data", "metric") {
		analysis = append(analysis, types.TaskAssignment{
			Role:                 types.AgentTypeAnalyst,
			RequiredCapabilities: []string{"analysis", "data-processing"},
			Responsibilities:     "analyze gathered data for: " + objective,
			ExpectedOutput:       "analysis report",
			Timeout:              5 * time.Minute,
			CanRunParallel:       true,
		})
	}
	plan.Phases = append(plan.Phases, analysis)

	if keywordIn(objective, "build", "implement", "develop", "create", "fix", "code") {
		plan.Phases = append(plan.Phases, []types.TaskAssignment{{
			Role:                 types.AgentTypeCoder,
			RequiredCapabilities: []string{"code-generation", "implementation"},
			Responsibilities:     "implement: " + objective,
			ExpectedOutput:       "working implementation",
			Timeout:              15 * time.Minute,
			CanRunParallel:       false,
		}})
		plan.Phases = append(plan.Phases, []types.TaskAssignment{
			{
				Role:                 types.AgentTypeTester,
				RequiredCapabilities: []string{"testing", "validation"},
				Responsibilities:     "verify the implementation of: " + objective,
				ExpectedOutput:       "test report",
				Timeout:              10 * time.Minute,
				CanRunParallel:       true,
			},
			{
				Role:                 types.AgentTypeReviewer,
				RequiredCapabilities: []string{"code-review", "quality-assurance"},
				Responsibilities:     "review the implementation of: " + objective,
				ExpectedOutput:       "review notes",
				Timeout:              10 * time.Minute,
				CanRunParallel:       true,
			},
		})
	} else {
		plan.Phases = append(plan.Phases, []types.TaskAssignment{{
			Role:                 types.AgentTypeAnalyst,
			RequiredCapabilities: []string{"analysis", "reporting"},
			Responsibilities:     "synthesize results for: " + objective,
			ExpectedOutput:       "final report",
			Timeout:              10 * time.Minute,
			CanRunParallel:       false,
		}})
	}

	return plan
}

func keywordIn(objective string, keywords ...string) bool {
	obj := strings.ToLower(objective)
	for _, kw := range keywords {
		if strings.Contains(obj, kw) {
			return true
		}
	}
	return false
}
