package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// newTestTask 创建固定ID的测试任务
func newTestTask(id string) *task.Task {
	t := task.NewTask(id, "测试任务"+id, task.ActionFunc(func(ctx *task.TaskContext) task.Outcome {
		return task.Success()
	}))
	t.ID = id
	return t
}

// newLinearGroup 创建线性分组 id1 -> id2 -> ... -> idN
func newLinearGroup(t *testing.T, groupID string, memberIDs ...string) *TaskGroup {
	g := NewTaskGroup(groupID, "测试分组"+groupID)
	g.ID = groupID
	for _, id := range memberIDs {
		require.NoError(t, g.AddTask(newTestTask(id)))
	}
	for i := 1; i < len(memberIDs); i++ {
		require.NoError(t, g.AddDependency(memberIDs[i-1], memberIDs[i]))
	}
	return g
}

func TestTaskGroup_AddTask(t *testing.T) {
	g := NewTaskGroup("extract", "抽取分组")

	require.NoError(t, g.AddTask(newTestTask("e1")))
	assert.Equal(t, 1, g.Size())

	// 重复成员应该报错
	assert.Error(t, g.AddTask(newTestTask("e1")))
	// nil任务应该报错
	assert.Error(t, g.AddTask(nil))

	member, exists := g.Member("e1")
	assert.True(t, exists)
	assert.Equal(t, "e1", member.ID)
}

func TestTaskGroup_AddDependency(t *testing.T) {
	g := newLinearGroup(t, "g", "m1", "m2")

	// 端点必须是分组成员
	assert.Error(t, g.AddDependency("m1", "outside"))
	assert.Error(t, g.AddDependency("outside", "m2"))

	// 重复边按幂等处理
	assert.NoError(t, g.AddDependency("m1", "m2"))

	deps := g.Dependencies()
	assert.Equal(t, []string{"m1"}, deps["m2"])
}

func TestTaskGroup_RootsAndLeaves(t *testing.T) {
	// m1 -> m3, m2 -> m3, m3 -> m4
	g := NewTaskGroup("g", "分叉分组")
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, g.AddTask(newTestTask(id)))
	}
	require.NoError(t, g.AddDependency("m1", "m3"))
	require.NoError(t, g.AddDependency("m2", "m3"))
	require.NoError(t, g.AddDependency("m3", "m4"))

	assert.Equal(t, []string{"m1", "m2"}, g.rootIDs())
	assert.Equal(t, []string{"m4"}, g.leafIDs())
}

func TestTaskGroup_AggregateState(t *testing.T) {
	g := newLinearGroup(t, "g", "m1", "m2", "m3")

	states := map[string]task.NodeState{
		"m1": task.StatePending,
		"m2": task.StatePending,
		"m3": task.StatePending,
	}
	stateOf := func(id string) task.NodeState { return states[id] }

	// 全部Pending
	assert.Equal(t, task.StatePending, g.AggregateState(stateOf))

	// 任一成员开始执行即为Running
	states["m1"] = task.StateRunning
	assert.Equal(t, task.StateRunning, g.AggregateState(stateOf))

	// 部分成员完成仍为Running
	states["m1"] = task.StateSucceeded
	states["m2"] = task.StateRetrying
	assert.Equal(t, task.StateRunning, g.AggregateState(stateOf))

	// 任一成员Failed，无论其他成员状态如何，聚合为Failed
	states["m2"] = task.StateFailed
	assert.Equal(t, task.StateFailed, g.AggregateState(stateOf))

	// 全部成功才算Succeeded
	states["m2"] = task.StateSucceeded
	states["m3"] = task.StateSucceeded
	assert.Equal(t, task.StateSucceeded, g.AggregateState(stateOf))

	// 全部到终态且存在Skipped（无Failed）聚合为Skipped
	states["m3"] = task.StateSkipped
	assert.Equal(t, task.StateSkipped, g.AggregateState(stateOf))
}
