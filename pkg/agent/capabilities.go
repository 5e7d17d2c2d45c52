package agent

import (
	"strings"

	"github.com/hivemesh/hivemind/pkg/types"
)

// capabilityBundles maps each agent type to its immutable capability set.
// Lookup is constant-time; the sets never change for the life of an agent.
var capabilityBundles = map[types.AgentType][]string{
	types.AgentTypeQueen:       {"coordination", "strategy", "decision-making", "delegation"},
	types.AgentTypeResearcher:  {"web-search", "data-gathering", "analysis", "synthesis"},
	types.AgentTypeCoder:       {"code-generation", "implementation", "refactoring", "debugging"},
	types.AgentTypeAnalyst:     {"analysis", "data-processing", "pattern-recognition", "reporting"},
	types.AgentTypeTester:      {"testing", "validation", "quality-assurance", "edge-case-detection"},
	types.AgentTypeArchitect:   {"system-design", "architecture", "planning", "integration"},
	types.AgentTypeReviewer:    {"code-review", "quality-assurance", "feedback", "standards"},
	types.AgentTypeOptimizer:   {"optimization", "performance", "profiling", "tuning"},
	types.AgentTypeDocumenter:  {"documentation", "writing", "explanation", "examples"},
	types.AgentTypeCoordinator: {"coordination", "scheduling", "communication", "tracking"},
	types.AgentTypeSpecialist:  {"domain-expertise", "specialized-analysis", "consulting"},
}

// keywordTable maps agent types to the description keywords used for
// tie-breaking and demand analysis
var keywordTable = map[types.AgentType][]string{
	types.AgentTypeResearcher:  {"research", "investigate", "search", "gather", "explore", "study"},
	types.AgentTypeCoder:       {"implement", "code", "build", "develop", "program", "fix", "function"},
	types.AgentTypeAnalyst:     {"analyze", "analysis", "data", "report", "pattern", "metric"},
	types.AgentTypeTester:      {"test", "verify", "validate", "check", "qa", "regression"},
	types.AgentTypeArchitect:   {"design", "architecture", "structure", "plan", "integrate"},
	types.AgentTypeReviewer:    {"review", "audit", "inspect", "feedback"},
	types.AgentTypeOptimizer:   {"optimize", "performance", "speed", "profile", "tune"},
	types.AgentTypeDocumenter:  {"document", "write", "describe", "explain", "readme"},
	types.AgentTypeCoordinator: {"coordinate", "orchestrate", "schedule", "organize"},
	types.AgentTypeSpecialist:  {"specialized", "expert", "domain"},
}

// WorkerTypes lists every spawnable worker type
func WorkerTypes() []types.AgentType {
	return []types.AgentType{
		types.AgentTypeResearcher,
		types.AgentTypeCoder,
		types.AgentTypeAnalyst,
		types.AgentTypeTester,
		types.AgentTypeArchitect,
		types.AgentTypeReviewer,
		types.AgentTypeOptimizer,
		types.AgentTypeDocumenter,
		types.AgentTypeCoordinator,
		types.AgentTypeSpecialist,
	}
}

// CapabilitiesFor returns the capability bundle of a type
func CapabilitiesFor(t types.AgentType) []string {
	caps := capabilityBundles[t]
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}

// Covers reports whether the capability slice is a superset of required
func Covers(capabilities, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		set[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// Satisfiable reports whether any configured agent type covers the
// required capabilities. Tasks that fail this are rejected at submission.
func Satisfiable(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, caps := range capabilityBundles {
		if Covers(caps, required) {
			return true
		}
	}
	return false
}

// TypesCovering returns every agent type whose bundle covers required
func TypesCovering(required []string) []types.AgentType {
	var out []types.AgentType
	for _, t := range WorkerTypes() {
		if Covers(capabilityBundles[t], required) {
			out = append(out, t)
		}
	}
	return out
}

// KeywordScore counts keyword matches between a description and a type's
// keyword list
func KeywordScore(t types.AgentType, description string) int {
	desc := strings.ToLower(description)
	score := 0
	for _, kw := range keywordTable[t] {
		if strings.Contains(desc, kw) {
			score++
		}
	}
	return score
}

// MostDemandedType scans task descriptions against the keyword table and
// returns the worker type with the highest aggregate score. Falls back to
// coder when nothing matches.
func MostDemandedType(descriptions []string) types.AgentType {
	best := types.AgentTypeCoder
	bestScore := 0
	for _, t := range WorkerTypes() {
		score := 0
		for _, d := range descriptions {
			score += KeywordScore(t, d)
		}
		if score > bestScore {
			bestScore = score
			best = t
		}
	}
	return best
}
