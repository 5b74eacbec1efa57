package task

import "fmt"

// ExhaustedError 重试次数耗尽错误（对外导出）
// 对该任务是终态；独立分支不受影响，下游依赖节点会被跳过
type ExhaustedError struct {
	NodeID   string // 节点ID
	NodeName string // 节点名称
	Attempts int    // 已用尝试次数
	Reason   string // 最后一次失败原因
}

// Error 实现error接口
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("节点 %s 重试次数耗尽（%d次尝试）: %s", e.NodeName, e.Attempts, e.Reason)
}

// CancelledError 任务取消错误（对外导出）
// 所属分组中有成员失败时，未完成的兄弟节点收到取消信号
type CancelledError struct {
	NodeID string // 节点ID
	Cause  string // 取消原因（触发取消的兄弟节点）
}

// Error 实现error接口
func (e *CancelledError) Error() string {
	return fmt.Sprintf("节点 %s 已取消: %s", e.NodeID, e.Cause)
}
