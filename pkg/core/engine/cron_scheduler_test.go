package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/pipeline"
	"github.com/LENAX/dagflow/pkg/core/task"
)

func TestCronScheduler_RegisterPipeline(t *testing.T) {
	eng := newTestEngine(t)
	cs := eng.cron

	pipe := pipeline.NewPipeline("nightly", "每日凌晨同步")
	pipe.ID = "nightly"
	pipe.Schedule = "0 2 * * *"
	require.NoError(t, pipe.AddTask(newTestNode("t1", succeedAction())))
	require.NoError(t, eng.RegisterPipeline(pipe))

	// 配置了调度表达式的Pipeline注册引擎时自动挂载到调度器
	assert.Equal(t, []string{"nightly"}, cs.RegisteredPipelines())

	// 重复挂载报错
	assert.Error(t, cs.RegisterPipeline(pipe))

	// 秒级的6段表达式同样支持
	fine := pipeline.NewPipeline("fine_grained", "秒级调度")
	fine.ID = "fine_grained"
	fine.Schedule = "*/30 * * * * *"
	require.NoError(t, fine.AddTask(newTestNode("t1", succeedAction())))
	require.NoError(t, cs.RegisterPipeline(fine))
	assert.Equal(t, []string{"fine_grained", "nightly"}, cs.RegisteredPipelines())

	require.NoError(t, cs.UnregisterPipeline("fine_grained"))
	assert.Equal(t, []string{"nightly"}, cs.RegisteredPipelines())
	assert.Error(t, cs.UnregisterPipeline("missing"))
}

func TestCronScheduler_InvalidSchedule(t *testing.T) {
	eng := newTestEngine(t)
	cs := eng.cron

	// 空表达式
	empty := pipeline.NewPipeline("no_schedule", "无调度")
	empty.ID = "no_schedule"
	require.NoError(t, empty.AddTask(newTestNode("t1", succeedAction())))
	assert.Error(t, cs.RegisterPipeline(empty))

	// 非法表达式在挂载时报错
	broken := pipeline.NewPipeline("broken_schedule", "非法调度")
	broken.ID = "broken_schedule"
	broken.Schedule = "every tuesday"
	require.NoError(t, broken.AddTask(newTestNode("t1", succeedAction())))
	assert.Error(t, cs.RegisterPipeline(broken))
	assert.Empty(t, cs.RegisteredPipelines())

	// 非法表达式不阻止引擎注册本身，只是不会被定时触发
	require.NoError(t, eng.RegisterPipeline(broken))
	_, exists := eng.GetPipeline("broken_schedule")
	assert.True(t, exists)
	assert.Empty(t, cs.RegisteredPipelines())
}

func TestCronScheduler_SkipWhenRunActive(t *testing.T) {
	eng := newTestEngine(t)
	cs := eng.cron

	pipe := pipeline.NewPipeline("hourly", "每小时同步")
	pipe.ID = "hourly"
	pipe.Schedule = "0 * * * *"
	require.NoError(t, pipe.AddTask(newTestNode("slow", blockUntilCancel())))
	require.NoError(t, eng.RegisterPipeline(pipe))

	// 已有Run未结束时触发被跳过
	manager, err := eng.TriggerRun(context.Background(), "hourly", pipeline.TriggerManual, nil)
	require.NoError(t, err)
	cs.triggerPipeline("hourly", "每小时同步")
	assert.Equal(t, 1, eng.ActiveRunCount("hourly"))

	runs, err := eng.ListRuns(context.Background(), "hourly", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// 上一轮结束后可以再次触发，触发来源记为cron
	require.NoError(t, eng.CancelRun(manager.RunID(), "测试让位"))
	require.NoError(t, manager.Wait(testWaitTimeout))

	cs.triggerPipeline("hourly", "每小时同步")
	runs, err = eng.ListRuns(context.Background(), "hourly", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	var cronRun *pipeline.Run
	for _, run := range runs {
		if run.TriggeredBy == pipeline.TriggerCron {
			cronRun = run
		}
	}
	require.NotNil(t, cronRun)
	require.NoError(t, eng.CancelRun(cronRun.ID, "测试收尾"))
	require.NoError(t, eng.WaitForRun(cronRun.ID, testWaitTimeout))
}

func TestCronScheduler_ScheduledRunFires(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过依赖真实时钟的调度测试")
	}

	eng := newTestEngine(t)

	pipe := pipeline.NewPipeline("every_second", "秒级触发")
	pipe.ID = "every_second"
	pipe.Schedule = "* * * * * *"
	require.NoError(t, pipe.AddTask(newTestNode("t1", succeedAction())))
	require.NoError(t, eng.RegisterPipeline(pipe))

	// 等待调度器按秒触发至少一次
	require.Eventually(t, func() bool {
		runs, err := eng.ListRuns(context.Background(), "every_second", 10)
		return err == nil && len(runs) > 0
	}, 3*time.Second, 50*time.Millisecond)

	// 摘除调度项后排空存量Run再做断言，避免新一轮触发干扰
	require.NoError(t, eng.cron.UnregisterPipeline("every_second"))
	require.NoError(t, eng.WaitForAllRuns(testWaitTimeout))

	runs, err := eng.ListRuns(context.Background(), "every_second", 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	sawCronSuccess := false
	for _, run := range runs {
		if run.TriggeredBy == pipeline.TriggerCron && run.State == task.RunStateSucceeded {
			sawCronSuccess = true
		}
	}
	assert.True(t, sawCronSuccess)
}
