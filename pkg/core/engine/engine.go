// Package engine 提供DAG编排引擎的对外门面
// 负责Pipeline注册、Run触发、定时调度与生命周期管理
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/LENAX/dagflow/pkg/core/cache"
	"github.com/LENAX/dagflow/pkg/core/dag"
	"github.com/LENAX/dagflow/pkg/core/executor"
	"github.com/LENAX/dagflow/pkg/core/pipeline"
	"github.com/LENAX/dagflow/pkg/core/task"
	"github.com/LENAX/dagflow/pkg/event"
	"github.com/LENAX/dagflow/pkg/plugin"
	"github.com/LENAX/dagflow/pkg/storage"
)

// shutdownTimeout 停止引擎时等待运行中Run结束的最长时间
const shutdownTimeout = 30 * time.Second

// compiledPipeline 已注册的Pipeline及其编译产物（内部结构）
type compiledPipeline struct {
	pipe  *pipeline.Pipeline
	graph *dag.Graph
}

// Engine DAG编排引擎（对外导出）
type Engine struct {
	registry *task.ActionRegistry
	exec     *executor.Executor
	bus      *event.Bus
	store    storage.Store // 可为nil，纯内存模式
	plugins  plugin.PluginManager
	results  cache.ResultCache
	cron     *CronScheduler

	pipelines map[string]*compiledPipeline // pipelineID -> 编译后的Pipeline
	byName    map[string]string            // pipelineName -> pipelineID
	managers  map[string]*RunManager       // runID -> RunManager

	mu      sync.RWMutex
	running bool
}

// NewEngine 创建引擎实例（纯内存模式，对外导出）
// maxWorkers: 全局最大并发执行数
func NewEngine(maxWorkers int, registry *task.ActionRegistry) (*Engine, error) {
	return NewEngineWithStore(maxWorkers, registry, nil)
}

// NewEngineWithStore 创建带持久化存储的引擎实例（对外导出）
// store为nil时运行在纯内存模式，Run历史不落库
func NewEngineWithStore(maxWorkers int, registry *task.ActionRegistry, store storage.Store) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("动作注册表不能为空")
	}

	exec, err := executor.NewExecutor(maxWorkers, registry)
	if err != nil {
		return nil, fmt.Errorf("创建执行器失败: %w", err)
	}

	bus, err := event.NewBus(false)
	if err != nil {
		return nil, fmt.Errorf("创建事件总线失败: %w", err)
	}

	e := &Engine{
		registry:  registry,
		exec:      exec,
		bus:       bus,
		store:     store,
		plugins:   plugin.NewPluginManager(),
		results:   cache.NewMemoryResultCache(),
		pipelines: make(map[string]*compiledPipeline),
		byName:    make(map[string]string),
		managers:  make(map[string]*RunManager),
	}
	e.cron = NewCronScheduler(e)
	return e, nil
}

// Start 启动引擎（对外导出）
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("引擎已启动")
	}
	e.running = true
	e.mu.Unlock()

	// 1. 启动事件总线并等待路由器就绪
	e.bus.Start()
	select {
	case <-e.bus.Running():
	case <-ctx.Done():
		return ctx.Err()
	}

	// 2. 启动执行器
	e.exec.Start()

	// 3. 恢复存储中的未完成Run：引擎重启后内存状态已丢失，统一判失败
	if err := e.failOrphanedRuns(ctx); err != nil {
		log.Printf("⚠️ [引擎] 处理未完成Run失败: %v", err)
	}

	// 4. 启动定时调度器
	e.cron.Start()

	log.Println("✅ DAG编排引擎已启动")
	return nil
}

// failOrphanedRuns 把存储中残留的未完成Run标记为失败（内部方法）
func (e *Engine) failOrphanedRuns(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	actives, err := e.store.ListActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("查询未完成Run失败: %w", err)
	}

	for _, run := range actives {
		run.State = task.RunStateFailed
		run.EndTime = time.Now()
		if run.FailureReason == "" {
			run.FailureReason = "引擎重启，运行中断"
		}
		if err := e.store.UpdateRun(ctx, run); err != nil {
			log.Printf("⚠️ [引擎] 更新中断Run失败: RunID=%s, Error=%v", run.ID, err)
			continue
		}
		log.Printf("🔄 [引擎] 中断的Run已标记失败: RunID=%s, Pipeline=%s", run.ID, run.PipelineName)
	}
	return nil
}

// Stop 停止引擎（对外导出）
// 取消所有运行中的Run并等待收尾，最多等待30秒
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	managers := make([]*RunManager, 0, len(e.managers))
	for _, manager := range e.managers {
		managers = append(managers, manager)
	}
	e.mu.Unlock()

	// 1. 停止定时调度器，不再触发新Run
	e.cron.Stop()

	// 2. 通知所有运行中的Run终止
	for _, manager := range managers {
		if !manager.State().IsTerminal() {
			manager.Cancel("引擎停止")
		}
	}

	// 3. 等待所有Run结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		for _, manager := range managers {
			<-manager.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Println("所有Run已结束")
	case <-time.After(shutdownTimeout):
		log.Println("等待Run结束超时")
	}

	// 4. 关闭执行器与事件总线
	e.exec.Shutdown()
	if err := e.bus.Close(); err != nil {
		log.Printf("⚠️ [引擎] 关闭事件总线失败: %v", err)
	}

	// 5. 释放结果缓存并清理内存映射
	e.results.Close()
	e.mu.Lock()
	e.managers = make(map[string]*RunManager)
	e.mu.Unlock()

	log.Println("✅ DAG编排引擎已停止")
}

// RegisterPipeline 注册Pipeline（对外导出）
// 注册时立即编译依赖图，循环依赖等结构错误在此暴露
func (e *Engine) RegisterPipeline(p *pipeline.Pipeline) error {
	if p == nil {
		return fmt.Errorf("Pipeline不能为空")
	}
	if p.Name == "" {
		return fmt.Errorf("Pipeline名称不能为空")
	}

	e.mu.RLock()
	_, nameTaken := e.byName[p.Name]
	_, idTaken := e.pipelines[p.ID]
	e.mu.RUnlock()
	if nameTaken || idTaken {
		return fmt.Errorf("Pipeline %s 已注册", p.Name)
	}

	// 1. 编译依赖图：分组展开为成员节点并做循环检测
	graph, err := p.Compile()
	if err != nil {
		return fmt.Errorf("Pipeline %s 编译失败: %w", p.Name, err)
	}

	// 2. 持久化元数据
	if e.store != nil {
		meta := &storage.PipelineMeta{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Schedule:    p.Schedule,
			Status:      p.Status,
			Params:      p.Params,
			TaskCount:   p.TaskCount(),
			CreateTime:  p.CreateTime,
			UpdateTime:  time.Now(),
		}
		if err := e.store.SavePipeline(context.Background(), meta); err != nil {
			return fmt.Errorf("保存Pipeline元数据失败: %w", err)
		}
	}

	// 3. 保存到内存映射
	e.mu.Lock()
	e.pipelines[p.ID] = &compiledPipeline{pipe: p, graph: graph}
	e.byName[p.Name] = p.ID
	e.mu.Unlock()

	// 4. 配置了调度表达式的Pipeline注册到定时调度器
	if p.Schedule != "" {
		if err := e.cron.RegisterPipeline(p); err != nil {
			log.Printf("⚠️ [引擎] 注册Pipeline到定时调度器失败: Pipeline=%s, Error=%v", p.Name, err)
			// 不阻止注册，仅记录日志
		}
	}

	log.Printf("✅ [引擎] 注册Pipeline成功: ID=%s, Name=%s, 节点数=%d", p.ID, p.Name, p.TaskCount())
	return nil
}

// UnregisterPipeline 取消注册Pipeline（对外导出）
// 有未结束Run的Pipeline不允许取消注册
func (e *Engine) UnregisterPipeline(pipelineID string) error {
	if e.ActiveRunCount(pipelineID) > 0 {
		return fmt.Errorf("Pipeline %s 存在未结束的Run，不能取消注册", pipelineID)
	}

	e.mu.Lock()
	compiled, exists := e.pipelines[pipelineID]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("Pipeline %s 未注册", pipelineID)
	}
	delete(e.pipelines, pipelineID)
	delete(e.byName, compiled.pipe.Name)
	e.mu.Unlock()

	if compiled.pipe.Schedule != "" {
		if err := e.cron.UnregisterPipeline(pipelineID); err != nil {
			log.Printf("⚠️ [引擎] 从定时调度器移除Pipeline失败: Pipeline=%s, Error=%v",
				compiled.pipe.Name, err)
		}
	}

	log.Printf("✅ [引擎] 取消注册Pipeline: ID=%s, Name=%s", pipelineID, compiled.pipe.Name)
	return nil
}

// GetPipeline 按ID查询已注册的Pipeline（对外导出）
func (e *Engine) GetPipeline(pipelineID string) (*pipeline.Pipeline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	compiled, exists := e.pipelines[pipelineID]
	if !exists {
		return nil, false
	}
	return compiled.pipe, true
}

// GetPipelineByName 按名称查询已注册的Pipeline（对外导出）
func (e *Engine) GetPipelineByName(name string) (*pipeline.Pipeline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pipelineID, exists := e.byName[name]
	if !exists {
		return nil, false
	}
	compiled, exists := e.pipelines[pipelineID]
	if !exists {
		return nil, false
	}
	return compiled.pipe, true
}

// ListPipelines 列出所有已注册的Pipeline，按名称排序（对外导出）
func (e *Engine) ListPipelines() []*pipeline.Pipeline {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pipelines := make([]*pipeline.Pipeline, 0, len(e.pipelines))
	for _, compiled := range e.pipelines {
		pipelines = append(pipelines, compiled.pipe)
	}
	sort.Slice(pipelines, func(i, j int) bool {
		return pipelines[i].Name < pipelines[j].Name
	})
	return pipelines
}

// SetPipelineStatus 启用或停用Pipeline（对外导出）
func (e *Engine) SetPipelineStatus(ctx context.Context, pipelineID, status string) error {
	if status != pipeline.StatusEnabled && status != pipeline.StatusDisabled {
		return fmt.Errorf("无效的Pipeline状态: %s", status)
	}

	e.mu.Lock()
	compiled, exists := e.pipelines[pipelineID]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("Pipeline %s 未注册", pipelineID)
	}
	compiled.pipe.Status = status
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.UpdatePipelineStatus(ctx, pipelineID, status); err != nil {
			return fmt.Errorf("更新Pipeline状态失败: %w", err)
		}
	}

	log.Printf("✅ [引擎] Pipeline状态更新: ID=%s, Status=%s", pipelineID, status)
	return nil
}

// TriggerRun 触发一次Pipeline执行（对外导出）
// params为本次运行的参数覆盖，返回Run管理器用于等待和查询
func (e *Engine) TriggerRun(ctx context.Context, pipelineID, triggeredBy string, params map[string]interface{}) (*RunManager, error) {
	e.mu.RLock()
	running := e.running
	compiled, exists := e.pipelines[pipelineID]
	e.mu.RUnlock()

	if !running {
		return nil, logError("engine_not_running", "引擎未启动")
	}
	if !exists {
		return nil, logError("pipeline_not_found", fmt.Sprintf("Pipeline %s 未注册", pipelineID))
	}
	if !compiled.pipe.Enabled() {
		return nil, logError("pipeline_disabled", fmt.Sprintf("Pipeline %s 已停用", compiled.pipe.Name))
	}

	// 1. 创建Run实例并持久化
	run := pipeline.NewRun(compiled.pipe, triggeredBy, params)
	if e.store != nil {
		if err := e.store.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("保存Run失败: %w", err)
		}
	}

	// 2. 创建Run管理器
	var repo storage.RunRepository
	if e.store != nil {
		repo = e.store
	}
	manager, err := NewRunManager(run, compiled.pipe, compiled.graph, e.exec, e.bus, repo, e.plugins, e.results)
	if err != nil {
		return nil, fmt.Errorf("创建Run管理器失败: %w", err)
	}

	// 3. 保存到内存映射并启动执行
	e.mu.Lock()
	e.managers[run.ID] = manager
	e.mu.Unlock()

	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("启动Run失败: %w", err)
	}

	log.Printf("✅ [引擎] 触发Run成功: RunID=%s, Pipeline=%s, TriggeredBy=%s",
		run.ID, compiled.pipe.Name, triggeredBy)
	return manager, nil
}

// CancelRun 终止一次运行中的Run（对外导出）
func (e *Engine) CancelRun(runID, reason string) error {
	e.mu.RLock()
	manager, exists := e.managers[runID]
	e.mu.RUnlock()

	if !exists {
		return logError("run_not_found", fmt.Sprintf("Run %s 不存在或未运行", runID))
	}
	if manager.State().IsTerminal() {
		return fmt.Errorf("Run %s 已结束", runID)
	}

	manager.Cancel(reason)
	log.Printf("🛑 [引擎] 已请求终止Run: RunID=%s, 原因=%s", runID, reason)
	return nil
}

// GetRunManager 查询内存中的Run管理器（对外导出）
func (e *Engine) GetRunManager(runID string) (*RunManager, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	manager, exists := e.managers[runID]
	return manager, exists
}

// GetRunReport 查询Run的完整报告（对外导出）
// 优先读内存中的Run管理器，已淘汰的Run从存储还原
func (e *Engine) GetRunReport(ctx context.Context, runID string) (*pipeline.RunReport, error) {
	if manager, exists := e.GetRunManager(runID); exists {
		return manager.Report(), nil
	}

	if e.store == nil {
		return nil, fmt.Errorf("Run %s 不存在", runID)
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("查询Run失败: %w", err)
	}
	statuses, err := e.store.ListNodeStatuses(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("查询节点状态失败: %w", err)
	}

	report := &pipeline.RunReport{Run: run}
	states := make(map[string]task.NodeState, len(statuses))
	for _, status := range statuses {
		report.Nodes = append(report.Nodes, *status)
		states[status.NodeID] = status.State
	}
	sort.Slice(report.Nodes, func(i, j int) bool {
		return report.Nodes[i].NodeID < report.Nodes[j].NodeID
	})

	// Pipeline仍在注册表时补充分组聚合状态
	if pipe, exists := e.GetPipeline(run.PipelineID); exists {
		for _, groupID := range pipe.GroupIDs() {
			group, ok := pipe.Group(groupID)
			if !ok {
				continue
			}
			report.Groups = append(report.Groups, pipeline.GroupStatus{
				GroupID:   groupID,
				GroupName: group.Name,
				State: group.AggregateState(func(nodeID string) task.NodeState {
					if state, found := states[nodeID]; found {
						return state
					}
					return task.StatePending
				}),
			})
		}
	}
	return report, nil
}

// GetProgress 查询Run的进度快照（对外导出）
func (e *Engine) GetProgress(runID string) (pipeline.ProgressSnapshot, bool) {
	manager, exists := e.GetRunManager(runID)
	if !exists {
		return pipeline.ProgressSnapshot{}, false
	}
	return manager.Progress(), true
}

// ListRuns 查询某Pipeline的Run记录（对外导出）
// 内存中的Run状态最新鲜，存储中的历史Run补充在后，按开始时间倒序
func (e *Engine) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*pipeline.Run, error) {
	seen := make(map[string]bool)
	var runs []*pipeline.Run

	e.mu.RLock()
	for _, manager := range e.managers {
		if pipelineID != "" && manager.PipelineID() != pipelineID {
			continue
		}
		run := manager.Run()
		runs = append(runs, &run)
		seen[run.ID] = true
	}
	e.mu.RUnlock()

	if e.store != nil {
		stored, err := e.store.ListRuns(ctx, pipelineID, limit)
		if err != nil {
			return nil, fmt.Errorf("查询Run记录失败: %w", err)
		}
		for _, run := range stored {
			if !seen[run.ID] {
				runs = append(runs, run)
			}
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ActiveRunCount 统计某Pipeline未结束的Run数量（对外导出）
// 定时调度器据此实现同一Pipeline同时只有一个活跃Run
func (e *Engine) ActiveRunCount(pipelineID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, manager := range e.managers {
		if manager.PipelineID() == pipelineID && !manager.State().IsTerminal() {
			count++
		}
	}
	return count
}

// WaitForRun 阻塞等待指定Run结束（对外导出）
func (e *Engine) WaitForRun(runID string, timeout ...time.Duration) error {
	manager, exists := e.GetRunManager(runID)
	if !exists {
		return logError("run_not_found", fmt.Sprintf("Run %s 不存在或未运行", runID))
	}
	return manager.Wait(timeout...)
}

// WaitForAllRuns 等待所有Run结束（对外导出）
// timeout: 可选超时参数，如果提供则使用该超时，否则无限等待
func (e *Engine) WaitForAllRuns(timeout ...time.Duration) error {
	e.mu.RLock()
	managers := make([]*RunManager, 0, len(e.managers))
	for _, manager := range e.managers {
		managers = append(managers, manager)
	}
	e.mu.RUnlock()

	if len(managers) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		for _, manager := range managers {
			<-manager.Done()
		}
		close(done)
	}()

	if len(timeout) > 0 && timeout[0] > 0 {
		select {
		case <-done:
		case <-time.After(timeout[0]):
			return fmt.Errorf("等待所有Run完成超时（%v）", timeout[0])
		}
	} else {
		<-done
	}

	// 汇总失败的Run
	var failures []string
	for _, manager := range managers {
		if manager.State() == task.RunStateFailed {
			failures = append(failures, manager.RunID())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("部分Run失败: %v", failures)
	}
	return nil
}

// EnableEmailAlerts 启用邮件告警（对外导出）
// 注册邮件插件并绑定到Run失败事件，params为SMTP配置
func (e *Engine) EnableEmailAlerts(params map[string]string) error {
	emailPlugin := plugin.NewEmailPlugin()
	if err := e.plugins.RegisterWithInit(emailPlugin, params); err != nil {
		return fmt.Errorf("注册邮件插件失败: %w", err)
	}
	if err := e.plugins.Bind(plugin.PluginBinding{
		PluginName: emailPlugin.Name(),
		Event:      plugin.EventRunFailed,
	}); err != nil {
		return fmt.Errorf("绑定邮件插件失败: %w", err)
	}
	log.Println("✅ [引擎] 邮件告警已启用")
	return nil
}

// GetRegistry 获取动作注册表（对外导出）
func (e *Engine) GetRegistry() *task.ActionRegistry {
	return e.registry
}

// GetPluginManager 获取插件管理器（对外导出）
func (e *Engine) GetPluginManager() plugin.PluginManager {
	return e.plugins
}

// GetEventBus 获取事件总线（对外导出）
func (e *Engine) GetEventBus() *event.Bus {
	return e.bus
}

// GetStore 获取持久化存储（对外导出，可为nil）
func (e *Engine) GetStore() storage.Store {
	return e.store
}

// Running 引擎是否在运行（对外导出）
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// logError 记录并返回带错误码的错误（内部方法）
func logError(code, msg string) error {
	err := fmt.Errorf("[%s] %s", code, msg)
	log.Printf("❌ %v", err)
	return err
}
