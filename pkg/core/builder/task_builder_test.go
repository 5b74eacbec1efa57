package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/task"
)

func TestTaskBuilder_Basic(t *testing.T) {
	registry := task.NewActionRegistry()
	require.NoError(t, registry.RegisterActionFunc("sync_table", func(tc *task.TaskContext) task.Outcome {
		return task.Success()
	}))

	built, err := NewTaskBuilder("extract_orders", "抽取订单表", registry).
		WithAction("sync_table").
		WithParam("table", "orders").
		WithParams(map[string]interface{}{"limit": 500, "table": "ods_orders"}).
		WithTimeout(60).
		WithMaxAttempts(5).
		WithRetryDelay(30 * time.Second).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "extract_orders", built.Name)
	assert.Equal(t, "sync_table", built.ActionName)
	assert.Equal(t, 60, built.TimeoutSeconds)
	assert.Equal(t, 5, built.MaxAttempts)
	assert.Equal(t, 30*time.Second, built.RetryDelay)
	assert.Equal(t, task.BackoffFixed, built.Backoff)
	// 批量参数与单个参数合并，同名覆盖
	assert.Equal(t, "ods_orders", built.Params["table"])
	assert.Equal(t, 500, built.Params["limit"])
	assert.NotEmpty(t, built.ID)
	assert.False(t, built.IsGate())
}

func TestTaskBuilder_Defaults(t *testing.T) {
	built, err := NewTaskBuilder("simple", "默认值", nil).
		WithActionFunc(func(tc *task.TaskContext) task.Outcome { return task.Success() }).
		Build()
	require.NoError(t, err)

	assert.Equal(t, task.DefaultMaxAttempts, built.MaxAttempts)
	assert.Equal(t, task.DefaultRetryDelay, built.RetryDelay)
	assert.Equal(t, task.BackoffFixed, built.Backoff)
	assert.Equal(t, 0, built.TimeoutSeconds)
}

func TestTaskBuilder_WithID(t *testing.T) {
	built, err := NewTaskBuilder("named", "指定ID", nil).
		WithID("extract_orders").
		WithActionFunc(func(tc *task.TaskContext) task.Outcome { return task.Success() }).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "extract_orders", built.ID)
}

func TestTaskBuilder_ExponentialBackoff(t *testing.T) {
	built, err := NewTaskBuilder("flaky", "指数退避", nil).
		WithActionFunc(func(tc *task.TaskContext) task.Outcome { return task.Success() }).
		WithRetryDelay(time.Second).
		WithExponentialBackoff().
		Build()
	require.NoError(t, err)

	assert.Equal(t, task.BackoffExponential, built.Backoff)
	assert.Equal(t, time.Second, built.RetryDelayFor(1))
	assert.Equal(t, 2*time.Second, built.RetryDelayFor(2))
	assert.Equal(t, 4*time.Second, built.RetryDelayFor(3))
}

func TestTaskBuilder_Gate(t *testing.T) {
	registry := task.NewActionRegistry()
	require.NoError(t, registry.RegisterGateFunc("variance_check", func(tc *task.TaskContext) (task.GateResult, error) {
		return task.Pass(), nil
	}))

	built, err := NewTaskBuilder("quality_check", "方差校验", registry).
		WithGate("variance_check").
		Build()
	require.NoError(t, err)
	assert.True(t, built.IsGate())
	assert.Equal(t, "variance_check", built.GateName)

	// 门禁函数直接绑定
	direct, err := NewTaskBuilder("inline_check", "内联门禁", nil).
		WithGateFunc(func(tc *task.TaskContext) (task.GateResult, error) {
			return task.GateFailf("超阈值"), nil
		}).
		Build()
	require.NoError(t, err)
	assert.True(t, direct.IsGate())
}

func TestTaskBuilder_Validation(t *testing.T) {
	registry := task.NewActionRegistry()

	// 名称为空
	_, err := NewTaskBuilder("", "描述", registry).
		WithActionFunc(func(tc *task.TaskContext) task.Outcome { return task.Success() }).
		Build()
	assert.Error(t, err)

	// 没有绑定Action或Gate
	_, err = NewTaskBuilder("bare", "描述", registry).Build()
	assert.Error(t, err)

	// Action与Gate互斥
	_, err = NewTaskBuilder("both", "描述", registry).
		WithActionFunc(func(tc *task.TaskContext) task.Outcome { return task.Success() }).
		WithGateFunc(func(tc *task.TaskContext) (task.GateResult, error) { return task.Pass(), nil }).
		Build()
	assert.Error(t, err)

	// 具名Action未注册
	_, err = NewTaskBuilder("unknown", "描述", registry).
		WithAction("not_registered").
		Build()
	assert.Error(t, err)

	// 具名Action但没有注册中心
	_, err = NewTaskBuilder("no_registry", "描述", nil).
		WithAction("sync_table").
		Build()
	assert.Error(t, err)
}

func TestTaskBuilder_InvalidValuesFallBack(t *testing.T) {
	built, err := NewTaskBuilder("tolerant", "非法值回退", nil).
		WithActionFunc(func(tc *task.TaskContext) task.Outcome { return task.Success() }).
		WithTimeout(-5).
		WithMaxAttempts(0).
		WithRetryDelay(-time.Second).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 0, built.TimeoutSeconds)
	assert.Equal(t, task.DefaultMaxAttempts, built.MaxAttempts)
	assert.Equal(t, task.DefaultRetryDelay, built.RetryDelay)
}
