package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// 触发来源常量
const (
	TriggerManual = "manual" // 命令行或代码手动触发
	TriggerCron   = "cron"   // 定时调度触发
	TriggerAPI    = "api"    // HTTP API触发
)

// Run 一次Pipeline执行实例（对外导出）
type Run struct {
	ID            string                 `json:"run_id"`                  // 运行ID
	PipelineID    string                 `json:"pipeline_id"`             // Pipeline ID
	PipelineName  string                 `json:"pipeline_name"`           // Pipeline名称
	State         task.RunState          `json:"state"`                   // 运行状态
	TriggeredBy   string                 `json:"triggered_by"`            // 触发来源
	ExecutionDate time.Time              `json:"execution_date"`          // 业务执行日期
	StartTime     time.Time              `json:"start_time"`              // 开始时间
	EndTime       time.Time              `json:"end_time,omitempty"`      // 结束时间
	Params        map[string]interface{} `json:"params,omitempty"`        // 合并后的运行参数
	FailureNodeID string                 `json:"failure_node,omitempty"`  // 触发失败的节点ID（重试耗尽或门禁Fail）
	FailureReason string                 `json:"failure_reason,omitempty"` // 失败原因
}

// NewRun 创建运行实例（对外导出）
// params为本次运行的参数覆盖，与Pipeline级参数合并，运行参数优先
func NewRun(p *Pipeline, triggeredBy string, params map[string]interface{}) *Run {
	merged := make(map[string]interface{}, len(p.Params)+len(params))
	for key, value := range p.Params {
		merged[key] = value
	}
	for key, value := range params {
		merged[key] = value
	}

	now := time.Now()
	return &Run{
		ID:            uuid.NewString(),
		PipelineID:    p.ID,
		PipelineName:  p.Name,
		State:         task.RunStateInitializing,
		TriggeredBy:   triggeredBy,
		ExecutionDate: now,
		StartTime:     now,
		Params:        merged,
	}
}

// Duration 运行耗时（对外导出）
func (r *Run) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// NodeStatus 单个节点的运行状态快照（对外导出）
type NodeStatus struct {
	NodeID     string           `json:"node_id"`               // 节点ID
	NodeName   string           `json:"node_name"`             // 节点名称
	GroupID    string           `json:"group_id,omitempty"`    // 所属分组ID，顶层任务为空
	State      task.NodeState   `json:"state"`                 // 节点状态
	Attempts   int              `json:"attempts"`              // 已执行次数
	GateResult *task.GateResult `json:"gate_result,omitempty"` // 门禁节点的评估结果
	Reason     string           `json:"reason,omitempty"`      // 失败或跳过的原因
	StartTime  time.Time        `json:"start_time,omitempty"`  // 首次开始执行时间
	EndTime    time.Time        `json:"end_time,omitempty"`    // 到达终态时间
}

// GroupStatus 分组聚合状态快照（对外导出）
type GroupStatus struct {
	GroupID   string         `json:"group_id"`   // 分组ID
	GroupName string         `json:"group_name"` // 分组名称
	State     task.NodeState `json:"state"`      // 聚合状态
}

// RunReport 一次运行的完整报告（对外导出）
type RunReport struct {
	Run    *Run          `json:"run"`              // 运行实例
	Nodes  []NodeStatus  `json:"nodes"`            // 节点状态（按节点ID排序）
	Groups []GroupStatus `json:"groups,omitempty"` // 分组聚合状态（按分组ID排序）
}

// Succeeded 运行是否成功，当且仅当所有节点Succeeded（对外导出）
func (r *RunReport) Succeeded() bool {
	return r.Run != nil && r.Run.State == task.RunStateSucceeded
}

// Node 按节点ID查找节点状态（对外导出）
func (r *RunReport) Node(nodeID string) (NodeStatus, bool) {
	for _, node := range r.Nodes {
		if node.NodeID == nodeID {
			return node, true
		}
	}
	return NodeStatus{}, false
}

// Group 按分组ID查找分组聚合状态（对外导出）
func (r *RunReport) Group(groupID string) (GroupStatus, bool) {
	for _, group := range r.Groups {
		if group.GroupID == groupID {
			return group, true
		}
	}
	return GroupStatus{}, false
}

// Progress 汇总各状态的节点数量（对外导出）
func (r *RunReport) Progress() ProgressSnapshot {
	snapshot := ProgressSnapshot{Total: len(r.Nodes)}
	for _, node := range r.Nodes {
		switch node.State {
		case task.StateSucceeded:
			snapshot.Succeeded++
		case task.StateFailed:
			snapshot.Failed++
		case task.StateSkipped:
			snapshot.Skipped++
		case task.StateRunning:
			snapshot.Running++
			snapshot.RunningNodeIDs = append(snapshot.RunningNodeIDs, node.NodeID)
		case task.StateRetrying:
			snapshot.Retrying++
		default:
			snapshot.Pending++
		}
	}
	return snapshot
}

// Summary 单行文字摘要，用于日志和CLI输出（对外导出）
func (r *RunReport) Summary() string {
	p := r.Progress()
	return fmt.Sprintf("状态=%s 总数=%d 成功=%d 失败=%d 跳过=%d",
		r.Run.State, p.Total, p.Succeeded, p.Failed, p.Skipped)
}

// ProgressSnapshot 内存中的节点进度快照（对外导出）
type ProgressSnapshot struct {
	Total          int      `json:"total"`                      // 节点总数
	Succeeded      int      `json:"succeeded"`                  // 成功数
	Failed         int      `json:"failed"`                     // 失败数
	Skipped        int      `json:"skipped"`                    // 跳过数
	Running        int      `json:"running"`                    // 正在执行数
	Retrying       int      `json:"retrying"`                   // 等待重试数
	Pending        int      `json:"pending"`                    // 待执行数
	RunningNodeIDs []string `json:"running_node_ids,omitempty"` // 正在执行的节点ID列表
}

// Resolved 是否所有节点都已到达终态（对外导出）
func (s ProgressSnapshot) Resolved() bool {
	return s.Succeeded+s.Failed+s.Skipped == s.Total
}
