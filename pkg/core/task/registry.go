package task

import (
	"fmt"
	"sort"
	"sync"
)

// ActionRegistry 动作/门禁注册中心（对外导出）
// YAML定义的Pipeline通过名称引用动作，引擎在此解析；
// 同名重复注册视为错误，避免两个实现抢同一个名字
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action // 动作名称 -> 实现
	gates   map[string]Gate   // 门禁名称 -> 实现
}

// NewActionRegistry 创建注册中心（对外导出）
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]Action),
		gates:   make(map[string]Gate),
	}
}

// RegisterAction 注册动作（对外导出）
// name: 动作名称（Pipeline定义中引用的唯一标识）
func (r *ActionRegistry) RegisterAction(name string, action Action) error {
	if name == "" {
		return fmt.Errorf("动作名称不能为空")
	}
	if action == nil {
		return fmt.Errorf("动作 %s 不能为nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("动作 %s 已注册", name)
	}
	r.actions[name] = action
	return nil
}

// RegisterActionFunc 以函数形式注册动作（对外导出）
func (r *ActionRegistry) RegisterActionFunc(name string, fn func(ctx *TaskContext) Outcome) error {
	return r.RegisterAction(name, ActionFunc(fn))
}

// RegisterGate 注册质量门禁（对外导出）
func (r *ActionRegistry) RegisterGate(name string, gate Gate) error {
	if name == "" {
		return fmt.Errorf("门禁名称不能为空")
	}
	if gate == nil {
		return fmt.Errorf("门禁 %s 不能为nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.gates[name]; exists {
		return fmt.Errorf("门禁 %s 已注册", name)
	}
	r.gates[name] = gate
	return nil
}

// RegisterGateFunc 以函数形式注册门禁（对外导出）
func (r *ActionRegistry) RegisterGateFunc(name string, fn func(ctx *TaskContext) (GateResult, error)) error {
	return r.RegisterGate(name, GateFunc(fn))
}

// GetAction 根据名称获取动作（对外导出）
func (r *ActionRegistry) GetAction(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// GetGate 根据名称获取门禁（对外导出）
func (r *ActionRegistry) GetGate(name string) (Gate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gate, ok := r.gates[name]
	return gate, ok
}

// ActionExists 检查动作是否已注册（对外导出）
func (r *ActionRegistry) ActionExists(name string) bool {
	_, ok := r.GetAction(name)
	return ok
}

// GateExists 检查门禁是否已注册（对外导出）
func (r *ActionRegistry) GateExists(name string) bool {
	_, ok := r.GetGate(name)
	return ok
}

// ActionNames 列出所有已注册的动作名称（对外导出，按字典序）
func (r *ActionRegistry) ActionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GateNames 列出所有已注册的门禁名称（对外导出，按字典序）
func (r *ActionRegistry) GateNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.gates))
	for name := range r.gates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
