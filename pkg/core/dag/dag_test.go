package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// buildDiamond 构建菱形图 a -> {b, c} -> d
func buildDiamond(t *testing.T) *Graph {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddNode(id, "节点"+id))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))
	require.NoError(t, g.Validate())
	return g
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()

	assert.NoError(t, g.AddNode("extract", "抽取"))
	assert.True(t, g.HasNode("extract"))
	assert.Equal(t, 1, g.Size())

	// 重复节点应该报错
	err := g.AddNode("extract", "抽取")
	assert.Error(t, err)

	// 空ID应该报错
	err = g.AddNode("", "无名")
	assert.Error(t, err)
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a", "a"))
	require.NoError(t, g.AddNode("b", "b"))

	assert.NoError(t, g.AddEdge("a", "b"))
	// 重复添加同一条边按幂等处理
	assert.NoError(t, g.AddEdge("a", "b"))

	// 端点不存在应该报错
	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "b"))
}

func TestGraph_Validate(t *testing.T) {
	g := buildDiamond(t)
	assert.True(t, g.Validated())

	// 验证后拓扑冻结
	assert.Error(t, g.AddNode("e", "e"))
	assert.Error(t, g.AddEdge("a", "d"))

	// 重复验证应该幂等
	assert.NoError(t, g.Validate())
}

func TestGraph_Validate_EmptyGraph(t *testing.T) {
	g := NewGraph()
	err := g.Validate()
	assert.Error(t, err)
}

func TestGraph_Validate_Cycle(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddNode(id, id))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "a"))

	err := g.Validate()
	require.Error(t, err)

	// 错误类型应该是*CycleError，且携带完整循环路径
	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	require.Len(t, cycleErr.Path, 4)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[3]) // 首尾节点相同
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Path[:3])
	assert.Contains(t, cycleErr.Error(), "->")

	// 验证失败后图未冻结
	assert.False(t, g.Validated())
}

func TestGraph_Validate_SelfLoop(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a", "a"))
	require.NoError(t, g.AddEdge("a", "a"))

	err := g.Validate()
	require.Error(t, err)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"a", "a"}, cycleErr.Path)
}

func TestGraph_QueriesRequireValidation(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a", "a"))

	_, err := g.Parents("a")
	assert.Error(t, err)
	_, err = g.Children("a")
	assert.Error(t, err)
	_, err = g.Roots()
	assert.Error(t, err)
	_, err = g.TopologicalSort()
	assert.Error(t, err)
	_, err = g.Descendants("a")
	assert.Error(t, err)
}

func TestGraph_ParentsChildren(t *testing.T) {
	g := buildDiamond(t)

	parents, err := g.Parents("d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, parents)

	children, err := g.Children("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, children)

	roots, err := g.Roots()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, roots)

	hasEdge, err := g.HasEdge("a", "b")
	require.NoError(t, err)
	assert.True(t, hasEdge)

	hasEdge, err = g.HasEdge("a", "d")
	require.NoError(t, err)
	assert.False(t, hasEdge)
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := buildDiamond(t)

	order, err := g.TopologicalSort()
	require.NoError(t, err)

	// 菱形图应该分成3层，同层按ID排序
	require.Len(t, order.Levels, 3)
	assert.Equal(t, []string{"a"}, order.Levels[0])
	assert.Equal(t, []string{"b", "c"}, order.Levels[1])
	assert.Equal(t, []string{"d"}, order.Levels[2])

	assert.Equal(t, []string{"a", "b", "c", "d"}, order.FlatOrder())
}

func TestGraph_ReadySet(t *testing.T) {
	g := buildDiamond(t)

	states := map[string]task.NodeState{
		"a": task.StatePending,
		"b": task.StatePending,
		"c": task.StatePending,
		"d": task.StatePending,
	}
	stateOf := func(id string) task.NodeState { return states[id] }

	// 初始只有根节点就绪
	assert.Equal(t, []string{"a"}, g.ReadySet(stateOf))

	// a成功后b和c同时就绪，按ID排序
	states["a"] = task.StateSucceeded
	assert.Equal(t, []string{"b", "c"}, g.ReadySet(stateOf))

	// b成功但c还在运行，d未就绪
	states["b"] = task.StateSucceeded
	states["c"] = task.StateRunning
	assert.Empty(t, g.ReadySet(stateOf))

	// 上游全部成功后d就绪
	states["c"] = task.StateSucceeded
	assert.Equal(t, []string{"d"}, g.ReadySet(stateOf))

	// 上游失败的节点永远不会就绪
	states["c"] = task.StateFailed
	assert.Empty(t, g.ReadySet(stateOf))
}

func TestGraph_IsResolved(t *testing.T) {
	g := buildDiamond(t)

	states := map[string]task.NodeState{
		"a": task.StateSucceeded,
		"b": task.StateSucceeded,
		"c": task.StateFailed,
		"d": task.StateSkipped,
	}
	stateOf := func(id string) task.NodeState { return states[id] }

	assert.True(t, g.IsResolved(stateOf))

	// 还有节点在重试中，未到全量终态
	states["c"] = task.StateRetrying
	assert.False(t, g.IsResolved(stateOf))
}

func TestGraph_Descendants(t *testing.T) {
	// 链式加分叉：a -> b -> c -> e, b -> d
	g := NewGraph()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, g.AddNode(id, id))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "e"))
	require.NoError(t, g.Validate())

	descendants, err := g.Descendants("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, descendants)

	// 叶子节点没有下游
	descendants, err = g.Descendants("e")
	require.NoError(t, err)
	assert.Empty(t, descendants)

	// 未知节点报错
	_, err = g.Descendants("missing")
	assert.Error(t, err)
}

func TestGraph_NodeLookup(t *testing.T) {
	g := buildDiamond(t)

	node, err := g.Node("a")
	require.NoError(t, err)
	assert.Equal(t, "a", node.ID())
	assert.Equal(t, "节点a", node.NodeName)

	_, err = g.Node("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, g.NodeIDs())
}
