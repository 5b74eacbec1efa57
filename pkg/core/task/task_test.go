package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_Defaults(t *testing.T) {
	tk := NewTask("load_orders", "加载订单数据", ActionFunc(func(ctx *TaskContext) Outcome {
		return Success()
	}))

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "load_orders", tk.Name)
	assert.Equal(t, DefaultMaxAttempts, tk.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, tk.RetryDelay)
	assert.Equal(t, BackoffFixed, tk.Backoff)
	assert.False(t, tk.IsGate())
	assert.NotNil(t, tk.Action())
}

func TestNewGateTask(t *testing.T) {
	gt := NewGateTask("consistency_check", "跨平台一致性校验", GateFunc(func(ctx *TaskContext) (GateResult, error) {
		return Pass(), nil
	}))

	assert.True(t, gt.IsGate())
	assert.NotNil(t, gt.Gate())
	assert.Nil(t, gt.Action())
}

func TestTask_RetryDelayFor(t *testing.T) {
	tk := NewTask("t", "", nil)
	tk.RetryDelay = 5 * time.Minute

	// 固定策略恒为RetryDelay
	assert.Equal(t, 5*time.Minute, tk.RetryDelayFor(1))
	assert.Equal(t, 5*time.Minute, tk.RetryDelayFor(2))
	assert.Equal(t, 5*time.Minute, tk.RetryDelayFor(3))

	// 指数策略按2的幂放大
	tk.Backoff = BackoffExponential
	assert.Equal(t, 5*time.Minute, tk.RetryDelayFor(1))
	assert.Equal(t, 10*time.Minute, tk.RetryDelayFor(2))
	assert.Equal(t, 20*time.Minute, tk.RetryDelayFor(3))
}

func TestOutcome_Constructors(t *testing.T) {
	ok := Success()
	assert.True(t, ok.IsSuccess())
	assert.False(t, ok.IsRetryable())

	fail := Failuref("表 %s 不存在", "orders")
	assert.False(t, fail.IsSuccess())
	assert.False(t, fail.IsRetryable())
	assert.Equal(t, "表 orders 不存在", fail.Reason)

	retry := Retryablef("连接超时")
	assert.True(t, retry.IsRetryable())

	withData := SuccessWithData(map[string]interface{}{"rows": 42})
	assert.True(t, withData.IsSuccess())
	assert.Equal(t, 42, withData.Data["rows"])
}

func TestWrapAction(t *testing.T) {
	tc := NewTaskContext(context.Background(), "n1", "node", "p1", "r1", nil)

	action := WrapAction(func(ctx *TaskContext) (map[string]interface{}, error) {
		return map[string]interface{}{"count": 7}, nil
	})
	outcome := action.Execute(tc)
	require.True(t, outcome.IsSuccess())
	assert.Equal(t, 7, outcome.Data["count"])

	// 返回error映射为Retryable
	failing := WrapAction(func(ctx *TaskContext) (map[string]interface{}, error) {
		return nil, assert.AnError
	})
	outcome = failing.Execute(tc)
	assert.True(t, outcome.IsRetryable())
	assert.NotEmpty(t, outcome.Reason)
}

func TestGateResult_String(t *testing.T) {
	assert.Equal(t, "Pass", Pass().String())
	assert.Equal(t, "Fail", GateResult{}.String())
	assert.Equal(t, "Fail: 方差超标", GateFailf("方差超标").String())
}

func TestThresholdGate(t *testing.T) {
	gate := ThresholdGate(func(ctx *TaskContext) (float64, error) {
		f, err := ctx.GetParamFloat("variance")
		return f, err
	}, "variance_threshold")

	// 指标低于阈值则通过
	tc := NewTaskContext(context.Background(), "g1", "gate", "p1", "r1", map[string]interface{}{
		"variance":           42.5,
		"variance_threshold": 100.0,
	})
	result, err := gate.Evaluate(tc)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	// 指标超过阈值则不通过，Detail说明原因
	tc.Params["variance"] = 250.0
	result, err = gate.Evaluate(tc)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Detail, "250")

	// 阈值参数缺失是错误而不是Fail
	tcMissing := NewTaskContext(context.Background(), "g1", "gate", "p1", "r1", nil)
	_, err = gate.Evaluate(tcMissing)
	assert.Error(t, err)
}
