package dao

import (
	"time"
)

// PipelineDAO pipeline_definition表的数据访问对象（内部使用）
type PipelineDAO struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Schedule    string    `db:"schedule"`
	Status      string    `db:"status"`
	Params      string    `db:"params"` // JSON格式存储
	TaskCount   int       `db:"task_count"`
	CreateTime  time.Time `db:"create_time"`
	UpdateTime  time.Time `db:"update_time"`
}
