package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeStatus_CanTransition(t *testing.T) {
	allowed := map[NodeStatus][]NodeStatus{
		NodeStatusPending: {NodeStatusReady, NodeStatusSkipped},
		NodeStatusReady:   {NodeStatusRunning, NodeStatusSkipped},
		NodeStatusRunning: {NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped},
	}
	all := []NodeStatus{
		NodeStatusPending, NodeStatusReady, NodeStatusRunning,
		NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestNodeStatus_Terminal(t *testing.T) {
	assert.False(t, NodeStatusPending.Terminal())
	assert.False(t, NodeStatusReady.Terminal())
	assert.False(t, NodeStatusRunning.Terminal())
	assert.True(t, NodeStatusCompleted.Terminal())
	assert.True(t, NodeStatusFailed.Terminal())
	assert.True(t, NodeStatusSkipped.Terminal())
}
