package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRegistry_RegisterAndGet(t *testing.T) {
	r := NewActionRegistry()

	err := r.RegisterActionFunc("run_sql", func(ctx *TaskContext) Outcome {
		return Success()
	})
	require.NoError(t, err)

	action, ok := r.GetAction("run_sql")
	assert.True(t, ok)
	assert.NotNil(t, action)
	assert.True(t, r.ActionExists("run_sql"))

	_, ok = r.GetAction("missing")
	assert.False(t, ok)
}

func TestActionRegistry_DuplicateRegistration(t *testing.T) {
	r := NewActionRegistry()

	require.NoError(t, r.RegisterActionFunc("dup", func(ctx *TaskContext) Outcome { return Success() }))
	err := r.RegisterActionFunc("dup", func(ctx *TaskContext) Outcome { return Success() })
	assert.Error(t, err)
}

func TestActionRegistry_InvalidRegistration(t *testing.T) {
	r := NewActionRegistry()

	assert.Error(t, r.RegisterAction("", ActionFunc(func(ctx *TaskContext) Outcome { return Success() })))
	assert.Error(t, r.RegisterAction("nil_action", nil))
	assert.Error(t, r.RegisterGate("", GateFunc(func(ctx *TaskContext) (GateResult, error) { return Pass(), nil })))
	assert.Error(t, r.RegisterGate("nil_gate", nil))
}

func TestActionRegistry_Gates(t *testing.T) {
	r := NewActionRegistry()

	err := r.RegisterGateFunc("row_check", func(ctx *TaskContext) (GateResult, error) {
		return Pass(), nil
	})
	require.NoError(t, err)

	gate, ok := r.GetGate("row_check")
	assert.True(t, ok)
	assert.NotNil(t, gate)
	assert.True(t, r.GateExists("row_check"))
	assert.False(t, r.GateExists("missing"))
}

func TestActionRegistry_Names(t *testing.T) {
	r := NewActionRegistry()

	require.NoError(t, r.RegisterActionFunc("b_action", func(ctx *TaskContext) Outcome { return Success() }))
	require.NoError(t, r.RegisterActionFunc("a_action", func(ctx *TaskContext) Outcome { return Success() }))
	require.NoError(t, r.RegisterGateFunc("z_gate", func(ctx *TaskContext) (GateResult, error) { return Pass(), nil }))

	// 名称按字典序返回
	assert.Equal(t, []string{"a_action", "b_action"}, r.ActionNames())
	assert.Equal(t, []string{"z_gate"}, r.GateNames())
}
