package dao

import (
	"database/sql"
	"time"
)

// RunDAO pipeline_run表的数据访问对象（内部使用）
type RunDAO struct {
	ID            string         `db:"id"`
	PipelineID    string         `db:"pipeline_id"`
	PipelineName  string         `db:"pipeline_name"`
	State         string         `db:"state"`
	TriggeredBy   string         `db:"triggered_by"`
	ExecutionDate time.Time      `db:"execution_date"`
	StartTime     time.Time      `db:"start_time"`
	EndTime       sql.NullTime   `db:"end_time"`
	Params        string         `db:"params"` // JSON格式存储
	FailureNode   sql.NullString `db:"failure_node"`
	FailureReason sql.NullString `db:"failure_reason"`
}

// NodeStatusDAO run_node_status表的数据访问对象（内部使用）
// 主键为(run_id, node_id)，节点每次状态变化做一次UPSERT
type NodeStatusDAO struct {
	RunID      string         `db:"run_id"`
	NodeID     string         `db:"node_id"`
	NodeName   string         `db:"node_name"`
	GroupID    sql.NullString `db:"group_id"`
	State      string         `db:"state"`
	Attempts   int            `db:"attempts"`
	GatePassed sql.NullBool   `db:"gate_passed"`
	GateDetail sql.NullString `db:"gate_detail"`
	Reason     sql.NullString `db:"reason"`
	StartTime  sql.NullTime   `db:"start_time"`
	EndTime    sql.NullTime   `db:"end_time"`
}
