// Package event 提供运行事件的定义与发布订阅总线
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// EventType 事件类型
type EventType string

const (
	// 运行级事件
	EventRunStarted  EventType = "run.started"  // 运行开始
	EventRunFinished EventType = "run.finished" // 运行结束（成功或失败）

	// 节点级事件
	EventNodeTransition EventType = "node.transition" // 节点状态变迁
	EventGateEvaluated  EventType = "gate.evaluated"  // 门禁评估完成

	// 分组级事件
	EventGroupStateChanged EventType = "group.state_changed" // 分组聚合状态变化
)

// Event 运行事件基础结构（对外导出）
type Event struct {
	ID         string            `json:"id"`          // 事件ID（UUID）
	Type       EventType         `json:"type"`        // 事件类型
	PipelineID string            `json:"pipeline_id"` // 关联Pipeline ID
	RunID      string            `json:"run_id"`      // 关联运行ID
	Timestamp  time.Time         `json:"timestamp"`   // 事件时间
	Payload    interface{}       `json:"payload"`     // 事件负载
	Metadata   map[string]string `json:"metadata"`    // 元数据
}

// NewEvent 创建运行事件（对外导出）
func NewEvent(eventType EventType, pipelineID, runID string, payload interface{}) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		PipelineID: pipelineID,
		RunID:      runID,
		Timestamp:  time.Now(),
		Payload:    payload,
		Metadata:   make(map[string]string),
	}
}

// WithMetadata 添加元数据（对外导出）
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// DecodePayload 将事件负载解码到目标结构（对外导出）
// 跨总线传输后负载退化为map，通过json往返恢复类型
func (e *Event) DecodePayload(out interface{}) error {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("序列化事件负载失败: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("解码事件负载失败: %w", err)
	}
	return nil
}

// RunStartedPayload 运行开始负载
type RunStartedPayload struct {
	PipelineName string `json:"pipeline_name"` // Pipeline名称
	TriggeredBy  string `json:"triggered_by"`  // 触发来源
	NodeTotal    int    `json:"node_total"`    // 节点总数（含分组成员）
}

// NodeTransitionPayload 节点状态变迁负载
// 每次节点状态变化都发布一条，携带新旧状态与当前尝试次数
type NodeTransitionPayload struct {
	NodeID   string         `json:"node_id"`            // 节点ID
	NodeName string         `json:"node_name"`          // 节点名称
	GroupID  string         `json:"group_id,omitempty"` // 所属分组ID
	OldState task.NodeState `json:"old_state"`          // 旧状态
	NewState task.NodeState `json:"new_state"`          // 新状态
	Attempt  int            `json:"attempt"`            // 当前尝试次数
	Reason   string         `json:"reason,omitempty"`   // 变迁原因（失败、跳过时）
}

// GateEvaluatedPayload 门禁评估负载
type GateEvaluatedPayload struct {
	NodeID   string `json:"node_id"`          // 门禁节点ID
	NodeName string `json:"node_name"`        // 门禁节点名称
	Passed   bool   `json:"passed"`           // 是否通过
	Detail   string `json:"detail,omitempty"` // Fail时的说明
}

// GroupStatePayload 分组聚合状态变化负载
type GroupStatePayload struct {
	GroupID   string         `json:"group_id"`   // 分组ID
	GroupName string         `json:"group_name"` // 分组名称
	OldState  task.NodeState `json:"old_state"`  // 旧聚合状态
	NewState  task.NodeState `json:"new_state"`  // 新聚合状态
}

// RunFinishedPayload 运行结束负载
type RunFinishedPayload struct {
	State         task.RunState `json:"state"`                    // 最终状态
	FailureNodeID string        `json:"failure_node,omitempty"`   // 触发失败的节点ID
	FailureReason string        `json:"failure_reason,omitempty"` // 失败原因
	DurationMS    int64         `json:"duration_ms"`              // 运行耗时（毫秒）
	Total         int           `json:"total"`                    // 节点总数
	Succeeded     int           `json:"succeeded"`                // 成功数
	Failed        int           `json:"failed"`                   // 失败数
	Skipped       int           `json:"skipped"`                  // 跳过数
}

// Handler 事件处理器函数类型
type Handler func(event *Event) error

// SubscriptionID 订阅ID类型
type SubscriptionID string
