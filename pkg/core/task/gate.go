package task

import "fmt"

// GateResult 质量门禁判定结果（对外导出）
// 注意：Fail不是错误，而是一等公民的阻断信号——门禁任务本身Succeeded，
// 但Fail结果会让所有严格下游节点被标记为Skipped
type GateResult struct {
	Passed bool   // 是否通过
	Detail string // 未通过时的说明（阈值、实际值等）
}

// Pass 构造通过结果（对外导出）
func Pass() GateResult {
	return GateResult{Passed: true}
}

// GateFailf 构造未通过结果（对外导出）
func GateFailf(format string, args ...interface{}) GateResult {
	return GateResult{Passed: false, Detail: fmt.Sprintf(format, args...)}
}

// String 返回结果的可读形式
func (r GateResult) String() string {
	if r.Passed {
		return "Pass"
	}
	if r.Detail == "" {
		return "Fail"
	}
	return "Fail: " + r.Detail
}

// Gate 质量门禁接口（对外导出）
// 与Action的区别：Evaluate出错时走Task的重试语义，
// 正常返回的Pass/Fail则是业务判定，与执行成败正交
type Gate interface {
	// Evaluate 执行质量判定
	Evaluate(ctx *TaskContext) (GateResult, error)
}

// GateFunc 函数式Gate适配器（对外导出）
type GateFunc func(ctx *TaskContext) (GateResult, error)

// Evaluate 实现Gate接口
func (f GateFunc) Evaluate(ctx *TaskContext) (GateResult, error) {
	return f(ctx)
}

// ThresholdGate 阈值型门禁（对外导出）
// 从上游结果或运行参数取数值metric，与阈值threshold比较；
// 阈值来自运行参数（可配置），不在引擎中写死
func ThresholdGate(metricFn func(ctx *TaskContext) (float64, error), thresholdParam string) Gate {
	return GateFunc(func(ctx *TaskContext) (GateResult, error) {
		threshold, err := ctx.GetParamFloat(thresholdParam)
		if err != nil {
			return GateResult{}, fmt.Errorf("门禁阈值参数 %s 读取失败: %w", thresholdParam, err)
		}
		metric, err := metricFn(ctx)
		if err != nil {
			return GateResult{}, fmt.Errorf("门禁指标计算失败: %w", err)
		}
		if metric < threshold {
			return Pass(), nil
		}
		return GateFailf("指标 %.4f 超过阈值 %.4f", metric, threshold), nil
	})
}
