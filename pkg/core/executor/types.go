package executor

import (
	"context"
	"time"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// Submission 一次节点执行请求（对外导出）
// 由调度器提交，执行完成后结果写回ResultChan
type Submission struct {
	Ctx          context.Context        // 节点级context，调度器取消时中断执行
	RunID        string                 // 运行ID
	PipelineID   string                 // Pipeline ID
	PipelineName string                 // Pipeline名称
	Node         *task.Task             // 任务定义（运行期只读）
	Attempt      int                    // 本次是第几次尝试，从1开始
	Params       map[string]interface{} // 已渲染的运行参数
	ResultChan   chan<- *AttemptResult  // 结果写回通道
}

// AttemptResult 一次尝试的执行结果（对外导出）
type AttemptResult struct {
	NodeID     string           // 节点ID
	Attempt    int              // 第几次尝试
	Outcome    task.Outcome     // 执行结果
	GateResult *task.GateResult // 门禁节点的评估结果，普通任务为nil
	Canceled   bool             // 是否因context取消而中断
	StartTime  time.Time        // 开始时间
	Duration   time.Duration    // 执行耗时
}
