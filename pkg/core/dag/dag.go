package dag

import (
	"fmt"
	"sort"
	"sync"

	godag "github.com/begmaroman/go-dag"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// StateFunc 查询节点当前运行状态的回调
// 图本身只保存拓扑结构，运行状态由调度器持有
type StateFunc func(nodeID string) task.NodeState

// Graph 依赖图（对外导出）
// 拓扑在构建阶段通过AddNode/AddEdge写入，Validate通过后冻结，
// 之后只允许只读查询
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*NodeRef  // 节点ID -> 节点引用
	children  map[string][]string  // 邻接表：节点ID -> 下游节点ID列表
	parents   map[string][]string  // 逆邻接表：节点ID -> 上游节点ID列表
	d         *godag.DAG[*NodeRef] // 验证通过后物化的go-dag实例
	validated bool                 // 是否已通过验证（冻结标志）
}

// NewGraph 创建空依赖图（对外导出）
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*NodeRef),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode 添加节点（对外导出，仅限构建阶段）
func (g *Graph) AddNode(nodeID, nodeName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.validated {
		return fmt.Errorf("依赖图已冻结，不允许再添加节点: %s", nodeID)
	}
	if nodeID == "" {
		return fmt.Errorf("节点ID不能为空")
	}
	if _, exists := g.nodes[nodeID]; exists {
		return fmt.Errorf("节点 %s 已存在", nodeID)
	}

	g.nodes[nodeID] = &NodeRef{NodeID: nodeID, NodeName: nodeName}
	g.children[nodeID] = make([]string, 0)
	g.parents[nodeID] = make([]string, 0)
	return nil
}

// AddEdge 添加依赖边 from -> to，表示to依赖from（对外导出，仅限构建阶段）
// 重复添加同一条边按幂等处理
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.validated {
		return fmt.Errorf("依赖图已冻结，不允许再添加边: %s -> %s", from, to)
	}
	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("添加边失败: 上游节点 %s 不存在", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return fmt.Errorf("添加边失败: 下游节点 %s 不存在", to)
	}

	// 去重
	for _, childID := range g.children[from] {
		if childID == to {
			return nil
		}
	}

	g.children[from] = append(g.children[from], to)
	g.parents[to] = append(g.parents[to], from)
	return nil
}

// Validate 验证依赖图（对外导出）
// 先用DFS一次性检测循环，无环后再物化到go-dag实例，
// 避免每次AddEdge都触发go-dag内部的递归检查
// 验证通过后拓扑冻结，返回的*CycleError携带完整循环路径
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.validated {
		return nil
	}
	if len(g.nodes) == 0 {
		return fmt.Errorf("依赖图为空，至少需要一个节点")
	}

	// 1. 检测循环
	if hasCycle, cyclePath := g.detectCycleDFS(); hasCycle {
		return &CycleError{Path: cyclePath}
	}

	// 2. 物化到go-dag（已确认无环，AddEdge不会失败）
	d := godag.NewDAG[*NodeRef]()
	for nodeID, node := range g.nodes {
		if err := d.AddVertexByID(nodeID, node); err != nil {
			return fmt.Errorf("添加节点失败: %s, Error=%w", nodeID, err)
		}
	}
	for from, childIDs := range g.children {
		for _, to := range childIDs {
			if err := d.AddEdge(from, to); err != nil {
				return fmt.Errorf("添加边失败: %s -> %s, Error=%w", from, to, err)
			}
		}
	}

	g.d = d
	g.validated = true
	return nil
}

// detectCycleDFS 使用DFS检测图中是否存在循环（内部方法）
// 使用三色标记法：0=白色（未访问），1=灰色（正在访问），2=黑色（已访问）
// 返回的循环路径按依赖方向排列，首尾节点相同
func (g *Graph) detectCycleDFS() (bool, []string) {
	color := make(map[string]int)
	parent := make(map[string]string)
	cyclePath := make([]string, 0)

	for nodeID := range g.nodes {
		color[nodeID] = 0
	}

	var dfs func(nodeID string) bool
	dfs = func(nodeID string) bool {
		// 标记为灰色（正在访问）
		color[nodeID] = 1

		for _, childID := range g.children[nodeID] {
			if color[childID] == 0 {
				// 白色节点，递归访问
				parent[childID] = nodeID
				if dfs(childID) {
					return true
				}
			} else if color[childID] == 1 {
				// 灰色节点，存在后向边，检测到循环
				// 沿parent链回溯构建循环路径
				cyclePath = append(cyclePath, childID)
				cur := nodeID
				for cur != childID && cur != "" {
					cyclePath = append(cyclePath, cur)
					cur = parent[cur]
				}
				cyclePath = append(cyclePath, childID) // 闭合循环
				return true
			}
			// 黑色节点，跳过（已访问且无循环）
		}

		// 标记为黑色（已访问）
		color[nodeID] = 2
		return false
	}

	// 按节点ID排序遍历，保证同一拓扑每次报告相同的循环
	for _, nodeID := range g.sortedNodeIDs() {
		if color[nodeID] == 0 {
			if dfs(nodeID) {
				// 回溯得到的路径是逆依赖方向，反转后按依赖方向输出
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// Validated 依赖图是否已通过验证（对外导出）
func (g *Graph) Validated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validated
}

// Size 节点数量（对外导出）
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// HasNode 判断节点是否存在（对外导出）
func (g *Graph) HasNode(nodeID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, exists := g.nodes[nodeID]
	return exists
}

// Node 获取节点引用（对外导出）
func (g *Graph) Node(nodeID string) (*NodeRef, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.validated {
		return g.d.GetVertex(nodeID)
	}
	node, exists := g.nodes[nodeID]
	if !exists {
		return nil, fmt.Errorf("节点 %s 不存在", nodeID)
	}
	return node, nil
}

// NodeIDs 返回所有节点ID（对外导出，按ID排序）
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedNodeIDs()
}

// sortedNodeIDs 按ID排序的节点列表（内部方法，调用方需持有锁）
func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for nodeID := range g.nodes {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)
	return ids
}

// Parents 返回节点的所有上游节点ID（对外导出，按ID排序）
func (g *Graph) Parents(nodeID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, fmt.Errorf("依赖图尚未验证，无法查询上游节点")
	}
	parents, err := g.d.GetParents(nodeID)
	if err != nil {
		return nil, fmt.Errorf("查询上游节点失败: %s, Error=%w", nodeID, err)
	}
	return sortedKeys(parents), nil
}

// Children 返回节点的所有下游节点ID（对外导出，按ID排序）
func (g *Graph) Children(nodeID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, fmt.Errorf("依赖图尚未验证，无法查询下游节点")
	}
	children, err := g.d.GetChildren(nodeID)
	if err != nil {
		return nil, fmt.Errorf("查询下游节点失败: %s, Error=%w", nodeID, err)
	}
	return sortedKeys(children), nil
}

// Roots 返回所有入度为0的根节点ID（对外导出，按ID排序）
func (g *Graph) Roots() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, fmt.Errorf("依赖图尚未验证，无法查询根节点")
	}
	return sortedKeys(g.d.GetRoots()), nil
}

// HasEdge 判断两个节点间是否存在直接依赖边（对外导出）
func (g *Graph) HasEdge(from, to string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return false, fmt.Errorf("依赖图尚未验证，无法查询边")
	}
	return g.d.IsEdge(from, to)
}

// TopologicalSort 执行拓扑排序（对外导出）
// 使用Kahn算法分层，每一层的节点互不依赖可以并行执行，
// 层内按节点ID排序保证调度顺序稳定
func (g *Graph) TopologicalSort() (*TopologicalOrder, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, fmt.Errorf("依赖图尚未验证，无法进行拓扑排序")
	}

	result := &TopologicalOrder{
		Levels: make([][]string, 0),
	}

	// 1. 计算每个节点的入度
	inDegree := make(map[string]int)
	for nodeID := range g.d.GetVertices() {
		parents, _ := g.d.GetParents(nodeID)
		inDegree[nodeID] = len(parents)
	}

	// 2. 找出所有入度为0的节点（根节点）
	queue := make([]string, 0)
	for nodeID, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, nodeID)
		}
	}
	sort.Strings(queue)

	// 3. 不断移除入度为0的节点，并更新其子节点的入度
	processed := 0
	for len(queue) > 0 {
		currentLevel := make([]string, 0, len(queue))
		nextQueue := make([]string, 0)

		for _, nodeID := range queue {
			currentLevel = append(currentLevel, nodeID)
			processed++

			children, _ := g.d.GetChildren(nodeID)
			for childID := range children {
				inDegree[childID]--
				if inDegree[childID] == 0 {
					nextQueue = append(nextQueue, childID)
				}
			}
		}

		sort.Strings(nextQueue)
		result.Levels = append(result.Levels, currentLevel)
		queue = nextQueue
	}

	// 4. 检查是否所有节点都被处理
	if processed != len(g.nodes) {
		return nil, fmt.Errorf("拓扑排序失败：存在未处理的节点（可能存在环）")
	}

	return result, nil
}

// ReadySet 返回当前可以调度的节点ID列表（对外导出，按ID排序）
// 就绪条件：节点处于Pending且所有上游节点均为Succeeded
func (g *Graph) ReadySet(stateOf StateFunc) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil
	}

	ready := make([]string, 0)
	for _, nodeID := range g.sortedNodeIDs() {
		if stateOf(nodeID) != task.StatePending {
			continue
		}
		parents, err := g.d.GetParents(nodeID)
		if err != nil {
			continue
		}
		allSucceeded := true
		for parentID := range parents {
			if stateOf(parentID) != task.StateSucceeded {
				allSucceeded = false
				break
			}
		}
		if allSucceeded {
			ready = append(ready, nodeID)
		}
	}
	return ready
}

// IsResolved 判断是否所有节点均到达终态（对外导出）
// 终态包括Succeeded、Failed、Skipped
func (g *Graph) IsResolved(stateOf StateFunc) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for nodeID := range g.nodes {
		if !stateOf(nodeID).IsTerminal() {
			return false
		}
	}
	return true
}

// Descendants 返回节点的所有传递下游节点ID（对外导出，按ID排序，不含自身）
// 用于失败和门禁Fail时的下游跳过传播
func (g *Graph) Descendants(nodeID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, fmt.Errorf("依赖图尚未验证，无法查询下游节点")
	}
	if _, exists := g.nodes[nodeID]; !exists {
		return nil, fmt.Errorf("节点 %s 不存在", nodeID)
	}

	visited := make(map[string]bool)
	queue := []string{nodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := g.d.GetChildren(cur)
		if err != nil {
			continue
		}
		for childID := range children {
			if !visited[childID] {
				visited[childID] = true
				queue = append(queue, childID)
			}
		}
	}

	descendants := make([]string, 0, len(visited))
	for id := range visited {
		descendants = append(descendants, id)
	}
	sort.Strings(descendants)
	return descendants, nil
}

// sortedKeys 按键排序返回map的所有键（内部方法）
func sortedKeys(m map[string]godag.VHash) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
