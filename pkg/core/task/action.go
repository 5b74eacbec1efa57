package task

import "fmt"

// OutcomeKind 动作结果类型枚举（对外导出）
type OutcomeKind string

const (
	// OutcomeSuccess 动作执行成功
	OutcomeSuccess OutcomeKind = "Success"
	// OutcomeFailure 动作执行失败（不可重试，立即终态）
	OutcomeFailure OutcomeKind = "Failure"
	// OutcomeRetryable 动作执行失败（可重试，由引擎按重试策略处理）
	OutcomeRetryable OutcomeKind = "Retryable"
)

// Outcome 动作执行结果（对外导出）
// 引擎只关心结果类型与原因，Data由下游任务通过上游结果API消费
type Outcome struct {
	Kind   OutcomeKind            // 结果类型
	Reason string                 // 失败原因（Success时为空）
	Data   map[string]interface{} // 可选：动作产出，缓存给下游任务
}

// IsSuccess 判断是否成功（对外导出）
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

// IsRetryable 判断是否可重试（对外导出）
func (o Outcome) IsRetryable() bool {
	return o.Kind == OutcomeRetryable
}

// Success 构造成功结果（对外导出）
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// SuccessWithData 构造带产出的成功结果（对外导出）
func SuccessWithData(data map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeSuccess, Data: data}
}

// Failuref 构造不可重试的失败结果（对外导出）
func Failuref(format string, args ...interface{}) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: fmt.Sprintf(format, args...)}
}

// Retryablef 构造可重试的失败结果（对外导出）
func Retryablef(format string, args ...interface{}) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: fmt.Sprintf(format, args...)}
}

// Action 任务动作接口（对外导出）
// 引擎对动作内容完全不感知：SQL执行、文件传输、HTTP调用、统计计算
// 都通过同一个Execute契约接入，返回Success/Failure/Retryable三种结果之一
type Action interface {
	// Execute 执行动作
	// ctx携带运行级参数（执行日期、配置变量）与取消信号
	Execute(ctx *TaskContext) Outcome
}

// ActionFunc 函数式Action适配器（对外导出）
type ActionFunc func(ctx *TaskContext) Outcome

// Execute 实现Action接口
func (f ActionFunc) Execute(ctx *TaskContext) Outcome {
	return f(ctx)
}

// WrapAction 将普通的 func(ctx) (result, error) 包装为Action（对外导出）
// 返回error时结果为Retryable，交由引擎的重试策略处理；
// 需要立即终态的失败请直接实现Action并返回Failuref
func WrapAction(fn func(ctx *TaskContext) (map[string]interface{}, error)) Action {
	return ActionFunc(func(ctx *TaskContext) Outcome {
		data, err := fn(ctx)
		if err != nil {
			return Retryablef("%v", err)
		}
		return SuccessWithData(data)
	})
}
