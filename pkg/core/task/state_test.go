package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeState_IsValid(t *testing.T) {
	valid := []NodeState{
		StatePending, StateRunning, StateRetrying,
		StateSucceeded, StateFailed, StateSkipped,
	}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "状态 %s 应该有效", s)
	}

	assert.False(t, NodeState("Unknown").IsValid())
	assert.False(t, NodeState("").IsValid())
}

func TestNodeState_IsTerminal(t *testing.T) {
	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateSkipped.IsTerminal())

	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.False(t, StateRetrying.IsTerminal())
}

func TestNodeState_CanTransitionTo(t *testing.T) {
	// Pending只能开始执行或被跳过
	assert.True(t, StatePending.CanTransitionTo(StateRunning))
	assert.True(t, StatePending.CanTransitionTo(StateSkipped))
	assert.False(t, StatePending.CanTransitionTo(StateSucceeded))
	assert.False(t, StatePending.CanTransitionTo(StateFailed))

	// Running的四种出口
	assert.True(t, StateRunning.CanTransitionTo(StateSucceeded))
	assert.True(t, StateRunning.CanTransitionTo(StateRetrying))
	assert.True(t, StateRunning.CanTransitionTo(StateFailed))
	assert.True(t, StateRunning.CanTransitionTo(StateSkipped))
	assert.False(t, StateRunning.CanTransitionTo(StatePending))

	// Retrying重新执行或被跳过
	assert.True(t, StateRetrying.CanTransitionTo(StateRunning))
	assert.True(t, StateRetrying.CanTransitionTo(StateSkipped))
	assert.False(t, StateRetrying.CanTransitionTo(StateSucceeded))

	// 终态不能转换
	for _, terminal := range []NodeState{StateSucceeded, StateFailed, StateSkipped} {
		for _, target := range []NodeState{StatePending, StateRunning, StateRetrying, StateSucceeded, StateFailed, StateSkipped} {
			assert.False(t, terminal.CanTransitionTo(target), "%s 不应该能转换到 %s", terminal, target)
		}
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	assert.True(t, RunStateSucceeded.IsTerminal())
	assert.True(t, RunStateFailed.IsTerminal())
	assert.False(t, RunStateInitializing.IsTerminal())
	assert.False(t, RunStateRunning.IsTerminal())
}
