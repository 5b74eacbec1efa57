package dto

import "time"

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// PipelineSummary Pipeline摘要信息
type PipelineSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TaskCount   int       `json:"task_count"`
	Status      string    `json:"status"`
	Schedule    string    `json:"schedule,omitempty"`
	ActiveRuns  int       `json:"active_runs"`
	CreatedAt   time.Time `json:"created_at"`
}

// PipelineDetail Pipeline详细信息
type PipelineDetail struct {
	PipelineSummary
	Params map[string]interface{} `json:"params,omitempty"`
	Tasks  []TaskSummary          `json:"tasks"`
	Groups []GroupSummary         `json:"groups,omitempty"`
}

// TaskSummary 任务节点摘要信息
type TaskSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	IsGate      bool   `json:"is_gate"`
	MaxAttempts int    `json:"max_attempts"`
	Timeout     int    `json:"timeout,omitempty"`
}

// GroupSummary 任务分组摘要信息
type GroupSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TaskCount int    `json:"task_count"`
}

// RunSummary Run摘要信息
type RunSummary struct {
	ID            string     `json:"id"`
	PipelineID    string     `json:"pipeline_id"`
	PipelineName  string     `json:"pipeline_name"`
	State         string     `json:"state"`
	TriggeredBy   string     `json:"triggered_by"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Duration      string     `json:"duration,omitempty"`
	FailureNode   string     `json:"failure_node,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// RunDetail Run详细信息（含节点明细与进度）
type RunDetail struct {
	RunSummary
	Params   map[string]interface{} `json:"params,omitempty"`
	Progress ProgressInfo           `json:"progress"`
	Nodes    []NodeStatusDetail     `json:"nodes"`
	Groups   []GroupStatusDetail    `json:"groups,omitempty"`
}

// NodeStatusDetail 节点执行状态明细
type NodeStatusDetail struct {
	NodeID     string     `json:"node_id"`
	NodeName   string     `json:"node_name"`
	GroupID    string     `json:"group_id,omitempty"`
	State      string     `json:"state"`
	Attempts   int        `json:"attempts"`
	GatePassed *bool      `json:"gate_passed,omitempty"`
	GateDetail string     `json:"gate_detail,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   string     `json:"duration,omitempty"`
}

// GroupStatusDetail 分组聚合状态明细
type GroupStatusDetail struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	State     string `json:"state"`
}

// ProgressInfo 运行进度信息
type ProgressInfo struct {
	Total          int      `json:"total"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	Skipped        int      `json:"skipped"`
	Running        int      `json:"running"`
	Retrying       int      `json:"retrying"`
	Pending        int      `json:"pending"`
	RunningNodeIDs []string `json:"running_node_ids,omitempty"`
}

// TriggerResponse 触发Run响应
type TriggerResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}
