package builder

import (
	"fmt"

	"github.com/LENAX/dagflow/pkg/core/pipeline"
	"github.com/LENAX/dagflow/pkg/core/task"
)

// groupEdge 分组内或Pipeline级的依赖边（内部使用）
type groupEdge struct {
	from string
	to   string
}

// GroupBuilder 任务分组构建器（对外导出）
// 成员和组内依赖链式累积，Build()时统一落到TaskGroup上校验
type GroupBuilder struct {
	name        string
	description string
	members     []*task.Task
	edges       []groupEdge
	err         error
}

// NewGroupBuilder 创建分组构建器（对外导出）
func NewGroupBuilder(name, description string) *GroupBuilder {
	return &GroupBuilder{
		name:        name,
		description: description,
	}
}

// AddTask 添加成员任务（链式构建，对外导出）
func (b *GroupBuilder) AddTask(t *task.Task) *GroupBuilder {
	if t == nil {
		if b.err == nil {
			b.err = fmt.Errorf("分组 %s 的成员任务不能为nil", b.name)
		}
		return b
	}
	b.members = append(b.members, t)
	return b
}

// WithDependency 声明组内依赖：from执行成功后to才能开始（链式构建，对外导出）
func (b *GroupBuilder) WithDependency(fromID, toID string) *GroupBuilder {
	b.edges = append(b.edges, groupEdge{from: fromID, to: toID})
	return b
}

// WithChain 按给定顺序串联一组成员ID（链式构建，对外导出）
func (b *GroupBuilder) WithChain(taskIDs ...string) *GroupBuilder {
	for i := 1; i < len(taskIDs); i++ {
		b.edges = append(b.edges, groupEdge{from: taskIDs[i-1], to: taskIDs[i]})
	}
	return b
}

// Build 完成分组构建（对外导出）
// 依赖边端点先按成员ID匹配，匹配不到时按唯一名称解析
func (b *GroupBuilder) Build() (*pipeline.TaskGroup, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, fmt.Errorf("分组名称不能为空")
	}

	group := pipeline.NewTaskGroup(b.name, b.description)
	resolver := newEdgeResolver()
	for _, member := range b.members {
		if err := group.AddTask(member); err != nil {
			return nil, fmt.Errorf("分组 %s 添加成员失败: %w", b.name, err)
		}
		resolver.add(member.ID, member.Name)
	}
	for _, edge := range b.edges {
		fromID, err := resolver.resolve(edge.from)
		if err != nil {
			return nil, fmt.Errorf("分组 %s 依赖解析失败: %w", b.name, err)
		}
		toID, err := resolver.resolve(edge.to)
		if err != nil {
			return nil, fmt.Errorf("分组 %s 依赖解析失败: %w", b.name, err)
		}
		if err := group.AddDependency(fromID, toID); err != nil {
			return nil, fmt.Errorf("分组 %s 添加依赖失败: %w", b.name, err)
		}
	}
	return group, nil
}

// PipelineBuilder Pipeline构建器（对外导出）
// 顶层任务、分组和依赖边链式累积，Build()时统一构建并校验
type PipelineBuilder struct {
	name        string
	description string
	schedule    string
	params      map[string]interface{}
	tasks       []*task.Task
	groups      []*pipeline.TaskGroup
	edges       []groupEdge
	err         error
}

// NewPipelineBuilder 创建Pipeline构建器（对外导出）
func NewPipelineBuilder(name, description string) *PipelineBuilder {
	return &PipelineBuilder{
		name:        name,
		description: description,
		params:      make(map[string]interface{}),
	}
}

// WithSchedule 设置cron调度表达式（链式构建，对外导出）
// 支持5段分钟级和6段秒级表达式，注册到引擎时校验
func (b *PipelineBuilder) WithSchedule(expr string) *PipelineBuilder {
	b.schedule = expr
	return b
}

// WithParam 设置Pipeline级参数（链式构建，对外导出）
// 节点参数中的${placeholder}占位符按此替换，触发Run时可被覆盖
func (b *PipelineBuilder) WithParam(key string, value interface{}) *PipelineBuilder {
	if key != "" {
		b.params[key] = value
	}
	return b
}

// AddTask 添加顶层任务（链式构建，对外导出）
func (b *PipelineBuilder) AddTask(t *task.Task) *PipelineBuilder {
	if t == nil {
		if b.err == nil {
			b.err = fmt.Errorf("Pipeline %s 的任务不能为nil", b.name)
		}
		return b
	}
	b.tasks = append(b.tasks, t)
	return b
}

// AddGroup 添加任务分组（链式构建，对外导出）
func (b *PipelineBuilder) AddGroup(g *pipeline.TaskGroup) *PipelineBuilder {
	if g == nil {
		if b.err == nil {
			b.err = fmt.Errorf("Pipeline %s 的分组不能为nil", b.name)
		}
		return b
	}
	b.groups = append(b.groups, g)
	return b
}

// WithDependency 声明顶层依赖边（链式构建，对外导出）
// 端点可以是顶层任务ID或分组ID，指向分组的边在编译时展开到成员
func (b *PipelineBuilder) WithDependency(fromID, toID string) *PipelineBuilder {
	b.edges = append(b.edges, groupEdge{from: fromID, to: toID})
	return b
}

// Build 完成Pipeline构建（对外导出）
// 依赖边端点可按ID或唯一名称引用顶层任务与分组；
// 返回的Pipeline尚未编译，注册到引擎时做循环检测
func (b *PipelineBuilder) Build() (*pipeline.Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, fmt.Errorf("Pipeline名称不能为空")
	}

	p := pipeline.NewPipeline(b.name, b.description)
	p.Schedule = b.schedule
	for key, value := range b.params {
		p.SetParam(key, value)
	}

	resolver := newEdgeResolver()
	for _, t := range b.tasks {
		if err := p.AddTask(t); err != nil {
			return nil, fmt.Errorf("Pipeline %s 添加任务失败: %w", b.name, err)
		}
		resolver.add(t.ID, t.Name)
	}
	for _, g := range b.groups {
		if err := p.AddGroup(g); err != nil {
			return nil, fmt.Errorf("Pipeline %s 添加分组失败: %w", b.name, err)
		}
		resolver.add(g.ID, g.Name)
	}
	for _, edge := range b.edges {
		fromID, err := resolver.resolve(edge.from)
		if err != nil {
			return nil, fmt.Errorf("Pipeline %s 依赖解析失败: %w", b.name, err)
		}
		toID, err := resolver.resolve(edge.to)
		if err != nil {
			return nil, fmt.Errorf("Pipeline %s 依赖解析失败: %w", b.name, err)
		}
		if err := p.AddDependency(fromID, toID); err != nil {
			return nil, fmt.Errorf("Pipeline %s 添加依赖失败: %w", b.name, err)
		}
	}
	return p, nil
}

// edgeResolver 依赖边端点解析器（内部使用）
// ID优先匹配，其次按唯一名称匹配
type edgeResolver struct {
	ids       map[string]bool
	nameToID  map[string]string
	nameCount map[string]int
}

func newEdgeResolver() *edgeResolver {
	return &edgeResolver{
		ids:       make(map[string]bool),
		nameToID:  make(map[string]string),
		nameCount: make(map[string]int),
	}
}

func (r *edgeResolver) add(id, name string) {
	r.ids[id] = true
	r.nameToID[name] = id
	r.nameCount[name]++
}

func (r *edgeResolver) resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("依赖端点不能为空")
	}
	if r.ids[ref] {
		return ref, nil
	}
	switch r.nameCount[ref] {
	case 0:
		return "", fmt.Errorf("依赖端点 %s 不存在", ref)
	case 1:
		return r.nameToID[ref], nil
	default:
		return "", fmt.Errorf("依赖端点名称 %s 不唯一，请改用ID引用", ref)
	}
}
