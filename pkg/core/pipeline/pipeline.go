package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/dagflow/pkg/core/dag"
	"github.com/LENAX/dagflow/pkg/core/task"
)

// Pipeline状态常量
const (
	StatusEnabled  = "ENABLED"  // 启用，可被手动或定时触发
	StatusDisabled = "DISABLED" // 停用，定时触发跳过
)

// Pipeline 编排定义（对外导出）
// 定义在运行期只读，所有运行时状态由调度器单独持有
type Pipeline struct {
	ID          string                 `json:"id"`          // Pipeline ID
	Name        string                 `json:"name"`        // Pipeline名称
	Description string                 `json:"description"` // 描述
	Schedule    string                 `json:"schedule"`    // cron表达式，空表示仅手动触发
	Status      string                 `json:"status"`      // ENABLED/DISABLED
	Params      map[string]interface{} `json:"params"`      // Pipeline级参数
	CreateTime  time.Time              `json:"create_time"` // 创建时间

	tasks    map[string]*task.Task // 顶层任务ID -> 任务
	groups   map[string]*TaskGroup // 分组ID -> 分组
	memberOf map[string]string     // 成员任务ID -> 所属分组ID
	deps     map[string][]string   // 外部依赖：后置节点ID -> 前置节点ID列表（端点为顶层任务或分组）
}

// NewPipeline 创建Pipeline（对外导出）
func NewPipeline(name, description string) *Pipeline {
	return &Pipeline{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      StatusEnabled,
		Params:      make(map[string]interface{}),
		CreateTime:  time.Now(),
		tasks:       make(map[string]*task.Task),
		groups:      make(map[string]*TaskGroup),
		memberOf:    make(map[string]string),
		deps:        make(map[string][]string),
	}
}

// Enabled 是否处于启用状态（对外导出）
func (p *Pipeline) Enabled() bool {
	return p.Status == StatusEnabled
}

// SetParam 设置Pipeline级参数（对外导出）
func (p *Pipeline) SetParam(key string, value interface{}) *Pipeline {
	if p.Params == nil {
		p.Params = make(map[string]interface{})
	}
	p.Params[key] = value
	return p
}

// AddTask 添加顶层任务（对外导出）
func (p *Pipeline) AddTask(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("任务不能为nil")
	}
	if t.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}
	if err := p.checkNodeID(t.ID); err != nil {
		return err
	}

	p.tasks[t.ID] = t
	return nil
}

// AddGroup 添加任务分组（对外导出）
// 分组成员与顶层任务共享同一个节点ID命名空间
func (p *Pipeline) AddGroup(g *TaskGroup) error {
	if g == nil {
		return fmt.Errorf("分组不能为nil")
	}
	if g.ID == "" {
		return fmt.Errorf("分组ID不能为空")
	}
	if g.Size() == 0 {
		return fmt.Errorf("分组 %s 没有成员任务", g.Name)
	}
	if err := p.checkNodeID(g.ID); err != nil {
		return err
	}
	for _, memberID := range g.MemberIDs() {
		if err := p.checkNodeID(memberID); err != nil {
			return err
		}
	}

	p.groups[g.ID] = g
	for _, memberID := range g.MemberIDs() {
		p.memberOf[memberID] = g.ID
	}
	return nil
}

// checkNodeID 检查节点ID在整个Pipeline内唯一（内部方法）
func (p *Pipeline) checkNodeID(nodeID string) error {
	if _, exists := p.tasks[nodeID]; exists {
		return fmt.Errorf("节点ID %s 已被顶层任务占用", nodeID)
	}
	if _, exists := p.groups[nodeID]; exists {
		return fmt.Errorf("节点ID %s 已被分组占用", nodeID)
	}
	if groupID, exists := p.memberOf[nodeID]; exists {
		return fmt.Errorf("节点ID %s 已被分组 %s 的成员占用", nodeID, groupID)
	}
	return nil
}

// AddDependency 添加外部依赖 fromID -> toID（对外导出）
// 端点必须是顶层任务或分组；指向分组的边在编译时展开到分组根成员，
// 从分组出发的边展开自分组叶子成员
func (p *Pipeline) AddDependency(fromID, toID string) error {
	if !p.isExternalNode(fromID) {
		return fmt.Errorf("依赖端点 %s 不是顶层任务或分组", fromID)
	}
	if !p.isExternalNode(toID) {
		return fmt.Errorf("依赖端点 %s 不是顶层任务或分组", toID)
	}

	// 去重
	for _, depID := range p.deps[toID] {
		if depID == fromID {
			return nil
		}
	}
	p.deps[toID] = append(p.deps[toID], fromID)
	return nil
}

// isExternalNode 判断节点是否为外部依赖的合法端点（内部方法）
func (p *Pipeline) isExternalNode(nodeID string) bool {
	if _, exists := p.tasks[nodeID]; exists {
		return true
	}
	_, exists := p.groups[nodeID]
	return exists
}

// Task 按节点ID查找任务，包括分组成员（对外导出）
func (p *Pipeline) Task(nodeID string) (*task.Task, bool) {
	if t, exists := p.tasks[nodeID]; exists {
		return t, true
	}
	if groupID, exists := p.memberOf[nodeID]; exists {
		return p.groups[groupID].Member(nodeID)
	}
	return nil, false
}

// Group 按ID查找分组（对外导出）
func (p *Pipeline) Group(groupID string) (*TaskGroup, bool) {
	g, exists := p.groups[groupID]
	return g, exists
}

// GroupOf 返回成员任务所属的分组ID（对外导出）
func (p *Pipeline) GroupOf(taskID string) (string, bool) {
	groupID, exists := p.memberOf[taskID]
	return groupID, exists
}

// GroupIDs 返回所有分组ID（对外导出，按ID排序）
func (p *Pipeline) GroupIDs() []string {
	ids := make([]string, 0, len(p.groups))
	for id := range p.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TaskCount 任务总数，含分组成员（对外导出）
func (p *Pipeline) TaskCount() int {
	count := len(p.tasks)
	for _, g := range p.groups {
		count += g.Size()
	}
	return count
}

// TaskIDs 返回所有任务节点ID，含分组成员（对外导出，按ID排序）
func (p *Pipeline) TaskIDs() []string {
	ids := make([]string, 0, p.TaskCount())
	for id := range p.tasks {
		ids = append(ids, id)
	}
	for id := range p.memberOf {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compile 编译为任务级依赖图（对外导出）
// 分组被展开为成员节点：指向分组的边接到分组根成员，
// 分组出发的边接自分组叶子成员。编译包含循环检测，
// 存在循环时返回*dag.CycleError
func (p *Pipeline) Compile() (*dag.Graph, error) {
	if p.TaskCount() == 0 {
		return nil, fmt.Errorf("pipeline %s 没有任何任务", p.Name)
	}

	g := dag.NewGraph()

	// 1. 添加所有任务节点（顶层任务 + 分组成员）
	for nodeID, t := range p.tasks {
		if err := g.AddNode(nodeID, t.Name); err != nil {
			return nil, err
		}
	}
	for _, groupID := range p.GroupIDs() {
		group := p.groups[groupID]
		for _, memberID := range group.MemberIDs() {
			member, _ := group.Member(memberID)
			if err := g.AddNode(memberID, member.Name); err != nil {
				return nil, err
			}
		}
	}

	// 2. 添加组内依赖边
	for _, groupID := range p.GroupIDs() {
		group := p.groups[groupID]
		for toID, fromIDs := range group.deps {
			for _, fromID := range fromIDs {
				if err := g.AddEdge(fromID, toID); err != nil {
					return nil, err
				}
			}
		}
	}

	// 3. 展开外部依赖边
	for toID, fromIDs := range p.deps {
		targets := p.expandTargets(toID)
		for _, fromID := range fromIDs {
			sources := p.expandSources(fromID)
			for _, source := range sources {
				for _, target := range targets {
					if err := g.AddEdge(source, target); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	// 4. 验证（循环检测 + 冻结拓扑）
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// expandSources 展开外部边的上游端点（内部方法）
// 分组展开为叶子成员，下游必须等分组全部成员完成
func (p *Pipeline) expandSources(nodeID string) []string {
	if group, exists := p.groups[nodeID]; exists {
		return group.leafIDs()
	}
	return []string{nodeID}
}

// expandTargets 展开外部边的下游端点（内部方法）
// 分组展开为根成员，分组上游就绪后根成员立即可调度
func (p *Pipeline) expandTargets(nodeID string) []string {
	if group, exists := p.groups[nodeID]; exists {
		return group.rootIDs()
	}
	return []string{nodeID}
}
