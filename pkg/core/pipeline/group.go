package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/dagflow/pkg/core/dag"
	"github.com/LENAX/dagflow/pkg/core/task"
)

// TaskGroup 任务分组（对外导出）
// 对外部依赖者表现为单个复合节点：上游指向分组的边在编译时
// 展开到分组的根成员，分组指向下游的边展开自叶子成员
type TaskGroup struct {
	ID          string    `json:"id"`          // 分组ID
	Name        string    `json:"name"`        // 分组名称
	Description string    `json:"description"` // 分组描述
	CreateTime  time.Time `json:"create_time"` // 创建时间

	members map[string]*task.Task // 成员任务ID -> 任务
	deps    map[string][]string   // 组内依赖：后置成员ID -> 前置成员ID列表
}

// NewTaskGroup 创建任务分组（对外导出）
func NewTaskGroup(name, description string) *TaskGroup {
	return &TaskGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreateTime:  time.Now(),
		members:     make(map[string]*task.Task),
		deps:        make(map[string][]string),
	}
}

// AddTask 添加成员任务（对外导出）
func (g *TaskGroup) AddTask(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("成员任务不能为nil")
	}
	if t.ID == "" {
		return fmt.Errorf("成员任务ID不能为空")
	}
	if _, exists := g.members[t.ID]; exists {
		return fmt.Errorf("分组 %s 中已存在成员 %s", g.Name, t.ID)
	}

	g.members[t.ID] = t
	return nil
}

// AddDependency 添加组内依赖 fromID -> toID（对外导出）
// 两个端点都必须是本分组的成员
func (g *TaskGroup) AddDependency(fromID, toID string) error {
	if _, exists := g.members[fromID]; !exists {
		return fmt.Errorf("分组 %s 中不存在成员 %s", g.Name, fromID)
	}
	if _, exists := g.members[toID]; !exists {
		return fmt.Errorf("分组 %s 中不存在成员 %s", g.Name, toID)
	}

	// 去重
	for _, depID := range g.deps[toID] {
		if depID == fromID {
			return nil
		}
	}
	g.deps[toID] = append(g.deps[toID], fromID)
	return nil
}

// Size 成员数量（对外导出）
func (g *TaskGroup) Size() int {
	return len(g.members)
}

// Member 按ID获取成员任务（对外导出）
func (g *TaskGroup) Member(taskID string) (*task.Task, bool) {
	t, exists := g.members[taskID]
	return t, exists
}

// MemberIDs 返回所有成员任务ID（对外导出，按ID排序）
func (g *TaskGroup) MemberIDs() []string {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies 返回组内依赖表的拷贝（对外导出）
func (g *TaskGroup) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(g.deps))
	for toID, fromIDs := range g.deps {
		deps[toID] = append([]string(nil), fromIDs...)
	}
	return deps
}

// rootIDs 组内没有前置依赖的成员（内部方法，按ID排序）
func (g *TaskGroup) rootIDs() []string {
	roots := make([]string, 0)
	for id := range g.members {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// leafIDs 组内没有后置依赖的成员（内部方法，按ID排序）
func (g *TaskGroup) leafIDs() []string {
	hasChild := make(map[string]bool)
	for _, fromIDs := range g.deps {
		for _, fromID := range fromIDs {
			hasChild[fromID] = true
		}
	}

	leaves := make([]string, 0)
	for id := range g.members {
		if !hasChild[id] {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// AggregateState 计算分组聚合状态（对外导出）
// 聚合状态是成员状态的纯函数：
//   - 任一成员Failed => Failed
//   - 全部成员Succeeded => Succeeded
//   - 全部成员到达终态且存在Skipped => Skipped
//   - 任一成员Running/Retrying，或部分成员已到终态 => Running
//   - 全部成员Pending => Pending
func (g *TaskGroup) AggregateState(stateOf dag.StateFunc) task.NodeState {
	total := len(g.members)
	counts := make(map[task.NodeState]int, 6)
	for id := range g.members {
		counts[stateOf(id)]++
	}

	switch {
	case counts[task.StateFailed] > 0:
		return task.StateFailed
	case counts[task.StateSucceeded] == total:
		return task.StateSucceeded
	case counts[task.StateSucceeded]+counts[task.StateSkipped] == total:
		return task.StateSkipped
	case counts[task.StatePending] == total:
		return task.StatePending
	default:
		return task.StateRunning
	}
}
