package task

// NodeState 节点生命周期状态枚举（对外导出）
// 适用于Task、QualityGate以及TaskGroup的聚合状态
type NodeState string

const (
	// StatePending 等待状态（初始状态，上游未全部成功前不得离开）
	StatePending NodeState = "Pending"
	// StateRunning 运行状态（动作已派发，正在执行）
	StateRunning NodeState = "Running"
	// StateRetrying 重试等待状态（本次尝试失败，等待重试定时器）
	StateRetrying NodeState = "Retrying"
	// StateSucceeded 成功状态（终态）
	StateSucceeded NodeState = "Succeeded"
	// StateFailed 失败状态（重试次数耗尽，终态）
	StateFailed NodeState = "Failed"
	// StateSkipped 跳过状态（上游失败或质量门禁未通过，终态）
	StateSkipped NodeState = "Skipped"
)

// IsValid 检查状态是否有效（对外导出）
func (s NodeState) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateRetrying,
		StateSucceeded, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal 检查是否为终态（对外导出）
// 终态节点不再发生任何状态转换
func (s NodeState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// CanTransitionTo 检查是否可以转换到目标状态（对外导出）
func (s NodeState) CanTransitionTo(target NodeState) bool {
	switch s {
	case StatePending:
		// Pending可以开始执行，也可以在命运确定后直接跳过
		return target == StateRunning || target == StateSkipped
	case StateRunning:
		// Running可以成功、进入重试等待、耗尽重试失败，或因分组失败被跳过
		return target == StateSucceeded || target == StateRetrying ||
			target == StateFailed || target == StateSkipped
	case StateRetrying:
		// Retrying等到定时器触发后重新执行，或因分组失败被跳过
		return target == StateRunning || target == StateSkipped
	case StateSucceeded, StateFailed, StateSkipped:
		// 终态不能转换
		return false
	default:
		return false
	}
}

// RunState 整个DAG运行的状态枚举（对外导出）
type RunState string

const (
	// RunStateInitializing 初始化中（图校验阶段，尚未派发任何节点）
	RunStateInitializing RunState = "Initializing"
	// RunStateRunning 运行中
	RunStateRunning RunState = "Running"
	// RunStateSucceeded 运行成功（所有节点均为Succeeded）
	RunStateSucceeded RunState = "Succeeded"
	// RunStateFailed 运行失败（存在Failed或Skipped节点）
	RunStateFailed RunState = "Failed"
)

// IsTerminal 检查运行是否已结束（对外导出）
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}
