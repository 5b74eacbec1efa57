package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/task"
)

const warehouseYAML = `
name: warehouse_verify
description: 跨平台数据一致性校验
schedule: "0 6 * * *"
params:
  variance_threshold: 100
groups:
  - name: redshift_phase
    tasks:
      - name: rs_extract
        action: noop
      - name: rs_load
        action: noop
        depends_on: [rs_extract]
  - name: snowflake_phase
    depends_on: [redshift_phase]
    tasks:
      - name: sf_extract
        action: noop
      - name: sf_load
        action: noop
    chain: [sf_extract, sf_load]
tasks:
  - name: verify
    gate: consistency_gate
    max_attempts: 2
    retry_delay: 10s
    backoff: exponential
    timeout: 30
    depends_on: [snowflake_phase]
`

func newTestRegistry(t *testing.T) *task.ActionRegistry {
	t.Helper()
	registry := task.NewActionRegistry()
	require.NoError(t, registry.RegisterActionFunc("noop", func(tc *task.TaskContext) task.Outcome {
		return task.Success()
	}))
	require.NoError(t, registry.RegisterGateFunc("consistency_gate", func(tc *task.TaskContext) (task.GateResult, error) {
		return task.Pass(), nil
	}))
	return registry
}

func TestParsePipelineConfig(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(warehouseYAML))
	require.NoError(t, err)
	assert.Equal(t, "warehouse_verify", cfg.Name)
	assert.Equal(t, "0 6 * * *", cfg.Schedule)
	assert.Len(t, cfg.Groups, 2)
	assert.Len(t, cfg.Tasks, 1)
	assert.Equal(t, 10*time.Second, cfg.Tasks[0].RetryDelay.Std())
}

func TestPipelineConfig_ToPipeline(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(warehouseYAML))
	require.NoError(t, err)

	p, err := cfg.ToPipeline(newTestRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, "warehouse_verify", p.Name)
	assert.Equal(t, "0 6 * * *", p.Schedule)
	assert.Equal(t, 100, p.Params["variance_threshold"])
	// 2个分组各2个成员 + 1个顶层门禁
	assert.Equal(t, 5, p.TaskCount())

	// 门禁任务的重试策略来自YAML
	var gateTask *task.Task
	for _, nodeID := range p.TaskIDs() {
		if node, ok := p.Task(nodeID); ok && node.Name == "verify" {
			gateTask = node
		}
	}
	require.NotNil(t, gateTask)
	assert.True(t, gateTask.IsGate())
	assert.Equal(t, 2, gateTask.MaxAttempts)
	assert.Equal(t, 10*time.Second, gateTask.RetryDelay)
	assert.Equal(t, task.BackoffExponential, gateTask.Backoff)
	assert.Equal(t, 30, gateTask.TimeoutSeconds)
}

func TestPipelineConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "缺少名称",
			yaml: "tasks:\n  - name: a\n    action: noop\n",
		},
		{
			name: "没有任务",
			yaml: "name: empty\n",
		},
		{
			name: "action与gate互斥",
			yaml: "name: p\ntasks:\n  - name: a\n    action: noop\n    gate: g\n",
		},
		{
			name: "任务未绑定动作",
			yaml: "name: p\ntasks:\n  - name: a\n",
		},
		{
			name: "非法退避策略",
			yaml: "name: p\ntasks:\n  - name: a\n    action: noop\n    backoff: linear\n",
		},
		{
			name: "空分组",
			yaml: "name: p\ngroups:\n  - name: g\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePipelineConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestPipelineConfig_ToPipeline_UnknownAction(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte("name: p\ntasks:\n  - name: a\n    action: missing\n"))
	require.NoError(t, err)

	_, err = cfg.ToPipeline(newTestRegistry(t))
	assert.Error(t, err)
}
