package builder

import (
	"fmt"
	"time"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// TaskBuilder 任务节点构建器（对外导出）
// 链式设置节点属性，校验延迟到Build()统一进行
type TaskBuilder struct {
	id             string
	name           string
	description    string
	actionName     string
	gateName       string
	action         task.Action
	gate           task.Gate
	params         map[string]interface{}
	timeoutSeconds int
	maxAttempts    int
	retryDelay     time.Duration
	backoff        string
	registry       *task.ActionRegistry
}

// NewTaskBuilder 创建任务构建器（对外导出）
// registry: 动作注册中心，使用具名Action/Gate时不能为nil；
// 直接绑定函数的节点可以传nil
func NewTaskBuilder(name, description string, registry *task.ActionRegistry) *TaskBuilder {
	return &TaskBuilder{
		name:        name,
		description: description,
		params:      make(map[string]interface{}),
		maxAttempts: task.DefaultMaxAttempts,
		retryDelay:  task.DefaultRetryDelay,
		backoff:     task.BackoffFixed,
		registry:    registry,
	}
}

// WithID 指定节点ID（链式构建，对外导出）
// 未指定时自动生成UUID，依赖边按名称解析同样可用
func (b *TaskBuilder) WithID(id string) *TaskBuilder {
	if id == "" {
		return b
	}
	b.id = id
	return b
}

// WithAction 绑定注册中心里的具名Action（链式构建，对外导出）
// 存在性校验延迟到Build()时进行
func (b *TaskBuilder) WithAction(actionName string) *TaskBuilder {
	if actionName == "" {
		return b
	}
	b.actionName = actionName
	return b
}

// WithActionFunc 直接绑定执行函数（链式构建，对外导出）
func (b *TaskBuilder) WithActionFunc(fn func(tc *task.TaskContext) task.Outcome) *TaskBuilder {
	if fn == nil {
		return b
	}
	b.action = task.ActionFunc(fn)
	return b
}

// WithGate 绑定注册中心里的具名质量门禁（链式构建，对外导出）
// 门禁节点与普通动作节点互斥
func (b *TaskBuilder) WithGate(gateName string) *TaskBuilder {
	if gateName == "" {
		return b
	}
	b.gateName = gateName
	return b
}

// WithGateFunc 直接绑定门禁评估函数（链式构建，对外导出）
func (b *TaskBuilder) WithGateFunc(fn func(tc *task.TaskContext) (task.GateResult, error)) *TaskBuilder {
	if fn == nil {
		return b
	}
	b.gate = task.GateFunc(fn)
	return b
}

// WithParam 设置单个节点级参数（链式构建，对外导出）
func (b *TaskBuilder) WithParam(key string, value interface{}) *TaskBuilder {
	if key == "" {
		return b
	}
	b.params[key] = value
	return b
}

// WithParams 批量设置节点级参数（链式构建，对外导出）
// 与已有参数合并，同名覆盖
func (b *TaskBuilder) WithParams(params map[string]interface{}) *TaskBuilder {
	for key, value := range params {
		if key != "" {
			b.params[key] = value
		}
	}
	return b
}

// WithTimeout 设置单次尝试的超时阈值（链式构建，对外导出）
// seconds: 超时时间，单位秒；0表示不限制
func (b *TaskBuilder) WithTimeout(seconds int) *TaskBuilder {
	if seconds < 0 {
		seconds = 0
	}
	b.timeoutSeconds = seconds
	return b
}

// WithMaxAttempts 设置最大尝试次数，含首次执行（链式构建，对外导出）
// count: 非正值使用默认值
func (b *TaskBuilder) WithMaxAttempts(count int) *TaskBuilder {
	if count < 1 {
		count = task.DefaultMaxAttempts
	}
	b.maxAttempts = count
	return b
}

// WithRetryDelay 设置重试间隔（链式构建，对外导出）
func (b *TaskBuilder) WithRetryDelay(delay time.Duration) *TaskBuilder {
	if delay <= 0 {
		delay = task.DefaultRetryDelay
	}
	b.retryDelay = delay
	return b
}

// WithExponentialBackoff 启用指数退避重试间隔（链式构建，对外导出）
// 第n次重试的等待时间为 RetryDelay * 2^(n-1)
func (b *TaskBuilder) WithExponentialBackoff() *TaskBuilder {
	b.backoff = task.BackoffExponential
	return b
}

// Build 完成节点构建（对外导出）
// 统一校验名称、动作绑定和注册中心引用
func (b *TaskBuilder) Build() (*task.Task, error) {
	// 1. 基础校验
	if b.name == "" {
		return nil, fmt.Errorf("节点名称不能为空")
	}

	hasAction := b.action != nil || b.actionName != ""
	hasGate := b.gate != nil || b.gateName != ""
	if !hasAction && !hasGate {
		return nil, fmt.Errorf("节点 %s 没有绑定Action或Gate", b.name)
	}
	if hasAction && hasGate {
		return nil, fmt.Errorf("节点 %s 不能同时绑定Action和Gate", b.name)
	}

	// 2. 具名引用的存在性校验
	if b.actionName != "" {
		if b.registry == nil {
			return nil, fmt.Errorf("使用具名Action %s 需要注册中心", b.actionName)
		}
		if !b.registry.ActionExists(b.actionName) {
			return nil, fmt.Errorf("Action %s 未在注册中心注册", b.actionName)
		}
	}
	if b.gateName != "" {
		if b.registry == nil {
			return nil, fmt.Errorf("使用具名Gate %s 需要注册中心", b.gateName)
		}
		if !b.registry.GateExists(b.gateName) {
			return nil, fmt.Errorf("Gate %s 未在注册中心注册", b.gateName)
		}
	}

	// 3. 构建节点实例
	var t *task.Task
	if hasGate {
		t = task.NewGateTask(b.name, b.description, b.gate)
		t.GateName = b.gateName
	} else {
		t = task.NewTask(b.name, b.description, b.action)
		t.ActionName = b.actionName
	}
	if b.id != "" {
		t.ID = b.id
	}
	t.TimeoutSeconds = b.timeoutSeconds
	t.MaxAttempts = b.maxAttempts
	t.RetryDelay = b.retryDelay
	t.Backoff = b.backoff
	for key, value := range b.params {
		t.SetParam(key, value)
	}
	return t, nil
}
