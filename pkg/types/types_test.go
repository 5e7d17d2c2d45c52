package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAgentStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from AgentStatus
		to   AgentStatus
		want bool
	}{
		{"idle to busy", AgentStatusIdle, AgentStatusBusy, true},
		{"idle to offline", AgentStatusIdle, AgentStatusOffline, true},
		{"busy to idle", AgentStatusBusy, AgentStatusIdle, true},
		{"busy to error", AgentStatusBusy, AgentStatusError, true},
		{"busy to offline", AgentStatusBusy, AgentStatusOffline, false},
		{"error to offline", AgentStatusError, AgentStatusOffline, true},
		{"error to idle", AgentStatusError, AgentStatusIdle, false},
		{"offline is terminal", AgentStatusOffline, AgentStatusIdle, false},
		{"offline never busy", AgentStatusOffline, AgentStatusBusy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to assigned", TaskStatusPending, TaskStatusAssigned, true},
		{"pending to in_progress", TaskStatusPending, TaskStatusInProgress, false},
		{"assigned to in_progress", TaskStatusAssigned, TaskStatusInProgress, true},
		{"assigned back to pending", TaskStatusAssigned, TaskStatusPending, true},
		{"in_progress to completed", TaskStatusInProgress, TaskStatusCompleted, true},
		{"in_progress to failed", TaskStatusInProgress, TaskStatusFailed, true},
		{"in_progress requeue", TaskStatusInProgress, TaskStatusPending, true},
		{"cancel from pending", TaskStatusPending, TaskStatusCancelled, true},
		{"cancel from in_progress", TaskStatusInProgress, TaskStatusCancelled, true},
		{"completed is frozen", TaskStatusCompleted, TaskStatusCancelled, false},
		{"failed is frozen", TaskStatusFailed, TaskStatusPending, false},
		{"cancelled is frozen", TaskStatusCancelled, TaskStatusAssigned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusAssigned.Terminal())
	assert.False(t, TaskStatusInProgress.Terminal())
}

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 1, PriorityLow.Rank())
	assert.Equal(t, 5, PriorityNormal.Rank())
	assert.Equal(t, 8, PriorityHigh.Rank())
	assert.Equal(t, 10, PriorityCritical.Rank())
	assert.Equal(t, 5, TaskPriority("bogus").Rank())
}

func TestMemoryEntryExpired(t *testing.T) {
	now := time.Now()
	persistent := &MemoryEntry{TTL: 0}
	assert.False(t, persistent.Expired(now.Add(24*time.Hour)))

	expiring := &MemoryEntry{TTL: 60, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, expiring.Expired(now))
	assert.True(t, expiring.Expired(now.Add(2*time.Minute)))
}
