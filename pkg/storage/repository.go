package storage

import (
	"context"
	"time"

	"github.com/LENAX/dagflow/pkg/core/pipeline"
)

// PipelineMeta 流水线定义元数据（对外导出）
// 持久化流水线的注册信息，不包含任务图结构（任务图由代码构建）
type PipelineMeta struct {
	ID          string                 // 流水线唯一标识（UUID）
	Name        string                 // 流水线名称（唯一）
	Description string                 // 流水线描述
	Schedule    string                 // Cron调度表达式（空表示不调度）
	Status      string                 // 状态：ENABLED / DISABLED
	Params      map[string]interface{} // 默认参数
	TaskCount   int                    // 节点总数（含组成员）
	CreateTime  time.Time              // 创建时间
	UpdateTime  time.Time              // 更新时间
}

// PipelineRepository 流水线元数据存储接口（对外导出）
type PipelineRepository interface {
	// SavePipeline 保存流水线元数据（创建或更新）
	SavePipeline(ctx context.Context, meta *PipelineMeta) error
	// GetPipeline 根据ID查询流水线元数据
	GetPipeline(ctx context.Context, id string) (*PipelineMeta, error)
	// GetPipelineByName 根据名称查询流水线元数据
	GetPipelineByName(ctx context.Context, name string) (*PipelineMeta, error)
	// ListPipelines 查询所有流水线元数据
	ListPipelines(ctx context.Context) ([]*PipelineMeta, error)
	// UpdatePipelineStatus 更新流水线状态（ENABLED / DISABLED）
	UpdatePipelineStatus(ctx context.Context, id, status string) error
	// DeletePipeline 删除流水线元数据
	DeletePipeline(ctx context.Context, id string) error
}

// RunRepository 流水线执行记录存储接口（对外导出）
// 保存Run全生命周期状态与各节点的执行明细，供历史查询和重启恢复使用
type RunRepository interface {
	// SaveRun 保存新创建的Run
	SaveRun(ctx context.Context, run *pipeline.Run) error
	// UpdateRun 更新Run状态（状态流转、结束时间、失败信息）
	UpdateRun(ctx context.Context, run *pipeline.Run) error
	// GetRun 根据ID查询Run
	GetRun(ctx context.Context, runID string) (*pipeline.Run, error)
	// ListRuns 查询某流水线最近的Run记录，limit<=0表示不限制
	ListRuns(ctx context.Context, pipelineID string, limit int) ([]*pipeline.Run, error)
	// ListActiveRuns 查询所有未结束的Run（Initializing或Running）
	ListActiveRuns(ctx context.Context) ([]*pipeline.Run, error)
	// SaveNodeStatus 保存或更新某Run中单个节点的执行状态
	SaveNodeStatus(ctx context.Context, runID string, status *pipeline.NodeStatus) error
	// ListNodeStatuses 查询某Run的所有节点执行状态
	ListNodeStatuses(ctx context.Context, runID string) ([]*pipeline.NodeStatus, error)
}

// Store 聚合存储接口（对外导出）
// 组合流水线与Run两个Repository，由各数据库方言包提供实现
type Store interface {
	PipelineRepository
	RunRepository

	// Close 关闭底层数据库连接
	Close() error
}
