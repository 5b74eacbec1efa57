package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/dag"
	"github.com/LENAX/dagflow/pkg/core/executor"
	"github.com/LENAX/dagflow/pkg/core/pipeline"
	"github.com/LENAX/dagflow/pkg/core/task"
	"github.com/LENAX/dagflow/pkg/event"
)

const testWaitTimeout = 5 * time.Second

// newTestNode 构造带可读ID的任务节点，重试间隔缩短到10ms
func newTestNode(id string, action task.Action) *task.Task {
	node := task.NewTask(id, "节点"+id, action)
	node.ID = id
	node.RetryDelay = 10 * time.Millisecond
	return node
}

// newTestGateNode 构造带可读ID的门禁节点
func newTestGateNode(id string, gate task.Gate) *task.Task {
	node := task.NewGateTask(id, "门禁"+id, gate)
	node.ID = id
	node.RetryDelay = 10 * time.Millisecond
	return node
}

func succeedAction() task.Action {
	return task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		return task.Success()
	})
}

// blockUntilCancel 阻塞直到节点context被取消，用于取消路径测试
func blockUntilCancel() task.Action {
	return task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		select {
		case <-tc.Done():
			return task.Failuref("任务被取消")
		case <-time.After(5 * time.Second):
			return task.Success()
		}
	})
}

// newTestManager 编译Pipeline并构造仅内存依赖的RunManager
func newTestManager(t *testing.T, pipe *pipeline.Pipeline, bus *event.Bus) *RunManager {
	t.Helper()

	graph, err := pipe.Compile()
	require.NoError(t, err)

	exec, err := executor.NewExecutor(8, task.NewActionRegistry())
	require.NoError(t, err)
	exec.Start()
	t.Cleanup(func() { _ = exec.Shutdown() })

	run := pipeline.NewRun(pipe, pipeline.TriggerManual, nil)
	manager, err := NewRunManager(run, pipe, graph, exec, bus, nil, nil, nil)
	require.NoError(t, err)
	return manager
}

// runToCompletion 启动RunManager并等待Run排空
func runToCompletion(t *testing.T, manager *RunManager) *pipeline.RunReport {
	t.Helper()
	require.NoError(t, manager.Start())
	require.NoError(t, manager.Wait(testWaitTimeout))
	return manager.Report()
}

func TestNewRunManager_Validation(t *testing.T) {
	pipe := pipeline.NewPipeline("p", "测试")
	require.NoError(t, pipe.AddTask(newTestNode("t1", succeedAction())))
	graph, err := pipe.Compile()
	require.NoError(t, err)

	exec, err := executor.NewExecutor(2, task.NewActionRegistry())
	require.NoError(t, err)
	run := pipeline.NewRun(pipe, pipeline.TriggerManual, nil)

	_, err = NewRunManager(nil, pipe, graph, exec, nil, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewRunManager(run, nil, graph, exec, nil, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewRunManager(run, pipe, nil, exec, nil, nil, nil, nil)
	assert.Error(t, err)
	// 未经验证的图不能用于运行
	_, err = NewRunManager(run, pipe, dag.NewGraph(), exec, nil, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewRunManager(run, pipe, graph, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestRunManager_LinearSuccess(t *testing.T) {
	var gotRows atomic.Int64

	pipe := pipeline.NewPipeline("linear", "线性流水线")
	require.NoError(t, pipe.AddTask(newTestNode("extract", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		return task.SuccessWithData(map[string]interface{}{"rows": 42})
	}))))
	require.NoError(t, pipe.AddTask(newTestNode("load", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		// 上游产出通过结果缓存注入
		if rows, ok := tc.GetUpstreamValue("extract", "rows").(int); ok {
			gotRows.Store(int64(rows))
		}
		return task.Success()
	}))))
	require.NoError(t, pipe.AddDependency("extract", "load"))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	assert.Equal(t, task.RunStateSucceeded, report.Run.State)
	assert.True(t, report.Succeeded())
	assert.Empty(t, report.Run.FailureNodeID)
	assert.False(t, report.Run.EndTime.IsZero())
	assert.EqualValues(t, 42, gotRows.Load())

	for _, nodeID := range []string{"extract", "load"} {
		status, exists := report.Node(nodeID)
		require.True(t, exists)
		assert.Equal(t, task.StateSucceeded, status.State)
		assert.Equal(t, 1, status.Attempts)
		assert.False(t, status.StartTime.IsZero())
		assert.False(t, status.EndTime.IsZero())
	}

	progress := report.Progress()
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Succeeded)
}

func TestRunManager_RetryThenSuccess(t *testing.T) {
	var attempts atomic.Int32

	pipe := pipeline.NewPipeline("flaky", "首次失败后成功")
	require.NoError(t, pipe.AddTask(newTestNode("flaky", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		if attempts.Add(1) == 1 {
			return task.Retryablef("连接超时")
		}
		return task.Success()
	}))))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	assert.Equal(t, task.RunStateSucceeded, report.Run.State)
	status, exists := report.Node("flaky")
	require.True(t, exists)
	assert.Equal(t, task.StateSucceeded, status.State)
	assert.Equal(t, 2, status.Attempts)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestRunManager_RetryExhaustion(t *testing.T) {
	var attempts atomic.Int32

	pipe := pipeline.NewPipeline("exhausted", "重试耗尽")
	require.NoError(t, pipe.AddTask(newTestNode("broken", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		attempts.Add(1)
		return task.Retryablef("下游服务不可用")
	}))))
	require.NoError(t, pipe.AddTask(newTestNode("after", succeedAction())))
	require.NoError(t, pipe.AddDependency("broken", "after"))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	// 默认三次尝试后进入Failed
	assert.EqualValues(t, 3, attempts.Load())
	broken, exists := report.Node("broken")
	require.True(t, exists)
	assert.Equal(t, task.StateFailed, broken.State)
	assert.Equal(t, 3, broken.Attempts)
	assert.Contains(t, broken.Reason, "重试次数耗尽")
	assert.Contains(t, broken.Reason, "下游服务不可用")

	// 下游被跳过而非执行
	after, exists := report.Node("after")
	require.True(t, exists)
	assert.Equal(t, task.StateSkipped, after.State)
	assert.Equal(t, 0, after.Attempts)
	assert.Contains(t, after.Reason, "上游节点")

	assert.Equal(t, task.RunStateFailed, report.Run.State)
	assert.Equal(t, "broken", report.Run.FailureNodeID)
	assert.Contains(t, report.Run.FailureReason, "重试次数耗尽")
}

func TestRunManager_NonRetryableFailure(t *testing.T) {
	pipe := pipeline.NewPipeline("fatal", "不可重试失败")
	require.NoError(t, pipe.AddTask(newTestNode("bad_config", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		return task.Failuref("表不存在")
	}))))
	require.NoError(t, pipe.AddTask(newTestNode("after", succeedAction())))
	require.NoError(t, pipe.AddDependency("bad_config", "after"))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	// 不可重试失败不消耗剩余尝试次数
	bad, exists := report.Node("bad_config")
	require.True(t, exists)
	assert.Equal(t, task.StateFailed, bad.State)
	assert.Equal(t, 1, bad.Attempts)
	assert.Equal(t, "表不存在", bad.Reason)

	after, _ := report.Node("after")
	assert.Equal(t, task.StateSkipped, after.State)
	assert.Equal(t, task.RunStateFailed, report.Run.State)
	assert.Equal(t, "bad_config", report.Run.FailureNodeID)
}

func TestRunManager_GroupSiblingCancellation(t *testing.T) {
	group := pipeline.NewTaskGroup("sync_group", "并行同步组")
	group.ID = "sync_group"
	require.NoError(t, group.AddTask(newTestNode("fast_fail", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		time.Sleep(30 * time.Millisecond)
		return task.Failuref("主键冲突")
	}))))
	require.NoError(t, group.AddTask(newTestNode("slow", blockUntilCancel())))

	pipe := pipeline.NewPipeline("grouped", "分组流水线")
	require.NoError(t, pipe.AddGroup(group))
	require.NoError(t, pipe.AddTask(newTestNode("after", succeedAction())))
	require.NoError(t, pipe.AddDependency("sync_group", "after"))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	fastFail, _ := report.Node("fast_fail")
	assert.Equal(t, task.StateFailed, fastFail.State)

	// 同组兄弟被连带取消，记为Skipped
	slow, _ := report.Node("slow")
	assert.Equal(t, task.StateSkipped, slow.State)
	assert.Contains(t, slow.Reason, "同组节点")

	after, _ := report.Node("after")
	assert.Equal(t, task.StateSkipped, after.State)

	groupStatus, exists := report.Group("sync_group")
	require.True(t, exists)
	assert.Equal(t, task.StateFailed, groupStatus.State)

	assert.Equal(t, task.RunStateFailed, report.Run.State)
	assert.Equal(t, "fast_fail", report.Run.FailureNodeID)
}

func TestRunManager_GateFailureSkipsDescendants(t *testing.T) {
	pipe := pipeline.NewPipeline("gated", "门禁流水线")
	require.NoError(t, pipe.AddTask(newTestNode("compute", succeedAction())))
	require.NoError(t, pipe.AddTask(newTestGateNode("quality_check", task.GateFunc(func(tc *task.TaskContext) (task.GateResult, error) {
		return task.GateFailf("方差 250.0 超过阈值 100.0"), nil
	}))))
	require.NoError(t, pipe.AddTask(newTestNode("publish", succeedAction())))
	require.NoError(t, pipe.AddDependency("compute", "quality_check"))
	require.NoError(t, pipe.AddDependency("quality_check", "publish"))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	// 门禁节点自身执行成功，评估结果记录在报告中
	gateStatus, exists := report.Node("quality_check")
	require.True(t, exists)
	assert.Equal(t, task.StateSucceeded, gateStatus.State)
	require.NotNil(t, gateStatus.GateResult)
	assert.False(t, gateStatus.GateResult.Passed)
	assert.Contains(t, gateStatus.GateResult.Detail, "250.0")

	// 后代被跳过，失败节点指向门禁
	publish, _ := report.Node("publish")
	assert.Equal(t, task.StateSkipped, publish.State)
	assert.Contains(t, publish.Reason, "质量门禁")

	assert.Equal(t, task.RunStateFailed, report.Run.State)
	assert.Equal(t, "quality_check", report.Run.FailureNodeID)
	assert.Contains(t, report.Run.FailureReason, "未通过")
}

func TestRunManager_TerminalGateFailure(t *testing.T) {
	pipe := pipeline.NewPipeline("terminal_gate", "末端门禁")
	require.NoError(t, pipe.AddTask(newTestNode("compute", succeedAction())))
	require.NoError(t, pipe.AddTask(newTestGateNode("final_check", task.GateFunc(func(tc *task.TaskContext) (task.GateResult, error) {
		return task.GateFailf("指标未达标"), nil
	}))))
	require.NoError(t, pipe.AddDependency("compute", "final_check"))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	// 末端门禁没有后代可跳过，全部节点Succeeded，Run裁决为成功
	assert.Equal(t, task.RunStateSucceeded, report.Run.State)
	assert.Empty(t, report.Run.FailureNodeID)

	gateStatus, _ := report.Node("final_check")
	assert.Equal(t, task.StateSucceeded, gateStatus.State)
	require.NotNil(t, gateStatus.GateResult)
	assert.False(t, gateStatus.GateResult.Passed)
}

func TestRunManager_Cancel(t *testing.T) {
	pipe := pipeline.NewPipeline("cancelable", "可取消流水线")
	require.NoError(t, pipe.AddTask(newTestNode("slow", blockUntilCancel())))
	require.NoError(t, pipe.AddTask(newTestNode("after", succeedAction())))
	require.NoError(t, pipe.AddDependency("slow", "after"))

	manager := newTestManager(t, pipe, nil)
	require.NoError(t, manager.Start())

	time.Sleep(50 * time.Millisecond)
	manager.Cancel("手动终止")
	require.NoError(t, manager.Wait(testWaitTimeout))

	report := manager.Report()
	assert.Equal(t, task.RunStateFailed, report.Run.State)
	assert.Equal(t, "手动终止", report.Run.FailureReason)

	slow, _ := report.Node("slow")
	assert.Equal(t, task.StateSkipped, slow.State)
	after, _ := report.Node("after")
	assert.Equal(t, task.StateSkipped, after.State)
	assert.Contains(t, after.Reason, "手动终止")
}

func TestRunManager_ParamRendering(t *testing.T) {
	var gotTable, gotDate string
	var mu sync.Mutex

	pipe := pipeline.NewPipeline("params", "参数渲染")
	pipe.SetParam("target_table", "dwd_orders")

	node := newTestNode("load", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		mu.Lock()
		gotTable = tc.GetParamString("table")
		gotDate = tc.GetParamString("date")
		mu.Unlock()
		return task.Success()
	}))
	node.SetParam("table", "${target_table}")
	node.SetParam("date", "${ds}")
	require.NoError(t, pipe.AddTask(node))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	require.Equal(t, task.RunStateSucceeded, report.Run.State)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "dwd_orders", gotTable)
	assert.Equal(t, report.Run.ExecutionDate.Format("2006-01-02"), gotDate)
}

func TestRunManager_UnresolvedParamFails(t *testing.T) {
	pipe := pipeline.NewPipeline("bad_params", "占位符缺失")
	node := newTestNode("load", succeedAction())
	node.SetParam("table", "${missing_param}")
	require.NoError(t, pipe.AddTask(node))

	manager := newTestManager(t, pipe, nil)
	report := runToCompletion(t, manager)

	status, _ := report.Node("load")
	assert.Equal(t, task.StateFailed, status.State)
	assert.Contains(t, status.Reason, "参数渲染失败")
	assert.Equal(t, task.RunStateFailed, report.Run.State)
}

func TestRunManager_StartTwice(t *testing.T) {
	pipe := pipeline.NewPipeline("once", "重复启动")
	require.NoError(t, pipe.AddTask(newTestNode("t1", succeedAction())))

	manager := newTestManager(t, pipe, nil)
	require.NoError(t, manager.Start())
	assert.Error(t, manager.Start())
	require.NoError(t, manager.Wait(testWaitTimeout))
}

func TestRunManager_PublishesTransitions(t *testing.T) {
	bus, err := event.NewBus(false)
	require.NoError(t, err)

	var mu sync.Mutex
	var transitions []event.NodeTransitionPayload
	_, err = bus.Subscribe(event.EventNodeTransition, func(e *event.Event) error {
		var payload event.NodeTransitionPayload
		if err := e.DecodePayload(&payload); err != nil {
			return err
		}
		mu.Lock()
		transitions = append(transitions, payload)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	finished := make(chan struct{})
	_, err = bus.Subscribe(event.EventRunFinished, func(e *event.Event) error {
		close(finished)
		return nil
	})
	require.NoError(t, err)

	bus.Start()
	select {
	case <-bus.Running():
	case <-time.After(testWaitTimeout):
		t.Fatal("事件总线未能启动")
	}
	t.Cleanup(func() { _ = bus.Close() })

	var attempts atomic.Int32
	pipe := pipeline.NewPipeline("observed", "事件观测")
	require.NoError(t, pipe.AddTask(newTestNode("flaky", task.ActionFunc(func(tc *task.TaskContext) task.Outcome {
		if attempts.Add(1) == 1 {
			return task.Retryablef("抖动")
		}
		return task.Success()
	}))))

	manager := newTestManager(t, pipe, bus)
	require.NoError(t, manager.Start())
	require.NoError(t, manager.Wait(testWaitTimeout))

	select {
	case <-finished:
	case <-time.After(testWaitTimeout):
		t.Fatal("未收到run.finished事件")
	}

	// 每次状态变更各发布一条事件：Pending->Running->Retrying->Running->Succeeded
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 4
	}, testWaitTimeout, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 4)
	assert.Equal(t, task.StatePending, transitions[0].OldState)
	assert.Equal(t, task.StateRunning, transitions[0].NewState)
	assert.Equal(t, 1, transitions[0].Attempt)
	assert.Equal(t, task.StateRetrying, transitions[1].NewState)
	assert.Equal(t, task.StateRunning, transitions[2].NewState)
	assert.Equal(t, 2, transitions[2].Attempt)
	assert.Equal(t, task.StateSucceeded, transitions[3].NewState)
	assert.Equal(t, "flaky", transitions[0].NodeID)
}
