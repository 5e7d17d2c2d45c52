package agent

import (
	"testing"

	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCovers(t *testing.T) {
	tests := []struct {
		name         string
		capabilities []string
		required     []string
		want         bool
	}{
		{"empty requirement", []string{"testing"}, nil, true},
		{"exact match", []string{"testing"}, []string{"testing"}, true},
		{"superset", []string{"testing", "validation"}, []string{"testing"}, true},
		{"missing one", []string{"testing"}, []string{"testing", "profiling"}, false},
		{"no capabilities", nil, []string{"testing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Covers(tt.capabilities, tt.required))
		})
	}
}

func TestSatisfiable(t *testing.T) {
	assert.True(t, Satisfiable(nil))
	assert.True(t, Satisfiable([]string{"code-generation"}))
	assert.True(t, Satisfiable([]string{"testing", "validation"}))
	assert.False(t, Satisfiable([]string{"time-travel"}))
	// No single type bundles both of these
	assert.False(t, Satisfiable([]string{"code-generation", "web-search"}))
}

func TestTypesCovering(t *testing.T) {
	covering := TypesCovering([]string{"quality-assurance"})
	assert.ElementsMatch(t, []types.AgentType{types.AgentTypeTester, types.AgentTypeReviewer}, covering)

	assert.Empty(t, TypesCovering([]string{"nonexistent"}))
	assert.Len(t, TypesCovering(nil), len(WorkerTypes()))
}

func TestKeywordScore(t *testing.T) {
	assert.Equal(t, 2, KeywordScore(types.AgentTypeCoder, "implement the parser and fix the lexer"))
	assert.Equal(t, 0, KeywordScore(types.AgentTypeCoder, "survey the literature"))
	assert.Equal(t, 1, KeywordScore(types.AgentTypeResearcher, "Research quantum computing"))
}

func TestMostDemandedType(t *testing.T) {
	assert.Equal(t, types.AgentTypeTester, MostDemandedType([]string{
		"test the login flow",
		"verify checkout edge cases",
		"implement a helper",
	}))
	// Nothing matches: falls back to coder
	assert.Equal(t, types.AgentTypeCoder, MostDemandedType([]string{"xyzzy"}))
	assert.Equal(t, types.AgentTypeCoder, MostDemandedType(nil))
}

func TestCapabilitiesForReturnsCopy(t *testing.T) {
	caps := CapabilitiesFor(types.AgentTypeCoder)
	caps[0] = "mutated"
	assert.Equal(t, "code-generation", CapabilitiesFor(types.AgentTypeCoder)[0])
}
