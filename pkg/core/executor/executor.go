package executor

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/LENAX/dagflow/pkg/core/task"
)

const (
	maxGlobalWorkers = 1000 // 全局最大并发数上限
	defaultQueueSize = 4096 // 默认提交队列大小
)

// Executor 执行器核心结构体（对外导出）
// 持有全局Worker池，按令牌限制同时执行的节点数量，
// 重试、跳过等调度决策由调度器负责，执行器只负责单次尝试
type Executor struct {
	mu         sync.RWMutex
	maxWorkers int                  // 全局最大并发数
	workerPool chan struct{}        // 全局Worker池（令牌信号量）
	queue      chan *Submission     // 待执行队列
	wg         sync.WaitGroup
	running    bool
	shutdown   chan struct{}
	registry   *task.ActionRegistry // Action/Gate注册中心
}

// NewExecutor 创建执行器实例（对外导出）
func NewExecutor(maxWorkers int, registry *task.ActionRegistry) (*Executor, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10 // 默认值
	}
	if maxWorkers > maxGlobalWorkers {
		return nil, fmt.Errorf("最大并发数不能超过 %d", maxGlobalWorkers)
	}
	if registry == nil {
		return nil, fmt.Errorf("Action注册中心不能为nil")
	}

	maxCPUCores := runtime.NumCPU() * 2
	if maxWorkers > maxCPUCores {
		log.Printf("警告: 并发池大小（%d）超过CPU核心数的2倍（%d），可能影响性能", maxWorkers, maxCPUCores)
	}

	exec := &Executor{
		maxWorkers: maxWorkers,
		workerPool: make(chan struct{}, maxWorkers),
		queue:      make(chan *Submission, defaultQueueSize),
		shutdown:   make(chan struct{}),
		registry:   registry,
	}

	// 启动提交分发器
	go exec.dispatcher()

	return exec, nil
}

// MaxWorkers 全局最大并发数（对外导出）
func (e *Executor) MaxWorkers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxWorkers
}

// Start 启动执行器（对外导出）
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	log.Printf("✅ 执行器已启动, 最大并发数=%d", e.maxWorkers)
}

// Shutdown 关闭执行器（对外导出）
// 等待已提交的节点执行完成，最多等待30秒
func (e *Executor) Shutdown() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.shutdown)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ 执行器已关闭, 所有节点执行完成")
	case <-ctx.Done():
		log.Println("⚠️ 执行器关闭超时，仍有节点未完成")
	}
	return nil
}

// Submit 提交节点执行请求（对外导出）
// 队列已满时阻塞等待，直到有空间或执行器关闭
func (e *Executor) Submit(sub *Submission) error {
	if sub == nil {
		return fmt.Errorf("提交请求不能为空")
	}
	if sub.Node == nil {
		return fmt.Errorf("任务定义不能为空")
	}
	if sub.ResultChan == nil {
		return fmt.Errorf("结果通道不能为空")
	}

	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return fmt.Errorf("执行器未运行")
	}

	select {
	case e.queue <- sub:
		return nil
	case <-e.shutdown:
		return fmt.Errorf("执行器已关闭")
	}
}

// dispatcher 提交分发器（内部方法）
// 从队列取出提交请求，获取Worker令牌后启动执行goroutine
func (e *Executor) dispatcher() {
	for {
		select {
		case sub, ok := <-e.queue:
			if !ok {
				return
			}
			select {
			case e.workerPool <- struct{}{}:
				e.wg.Add(1)
				go e.execute(sub)
			case <-e.shutdown:
				e.reportCanceled(sub, "执行器已关闭")
			}
		case <-e.shutdown:
			return
		}
	}
}

// execute 执行单次尝试（内部方法）
func (e *Executor) execute(sub *Submission) {
	defer func() {
		<-e.workerPool
		e.wg.Done()
	}()

	startTime := time.Now()
	node := sub.Node

	// 1. 构建执行context，任务级超时生效时包一层deadline
	baseCtx := sub.Ctx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx := baseCtx
	var cancel context.CancelFunc
	if node.TimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(baseCtx, time.Duration(node.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	// 2. 创建TaskContext
	taskCtx := task.NewTaskContext(ctx, node.ID, node.Name, sub.PipelineID, sub.RunID, sub.Params)
	taskCtx.Attempt = sub.Attempt

	log.Printf("🚀 [开始执行] RunID=%s, NodeID=%s, NodeName=%s, 第%d次尝试",
		sub.RunID, node.ID, node.Name, sub.Attempt)

	// 3. 在子goroutine中执行，以便响应取消和超时
	type attemptOutput struct {
		outcome    task.Outcome
		gateResult *task.GateResult
	}
	outputCh := make(chan attemptOutput, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("❌ [执行panic] NodeID=%s, NodeName=%s, Error=%v", node.ID, node.Name, r)
				outputCh <- attemptOutput{outcome: task.Retryablef("任务执行panic: %v", r)}
			}
		}()

		if node.IsGate() {
			outcome, gateResult := e.evaluateGate(node, taskCtx)
			outputCh <- attemptOutput{outcome: outcome, gateResult: gateResult}
		} else {
			outputCh <- attemptOutput{outcome: e.runAction(node, taskCtx)}
		}
	}()

	// 4. 等待执行结果或context结束
	result := &AttemptResult{
		NodeID:    node.ID,
		Attempt:   sub.Attempt,
		StartTime: startTime,
	}
	select {
	case output := <-outputCh:
		result.Outcome = output.outcome
		result.GateResult = output.gateResult
		// 调度器已取消且动作以失败收尾时，按取消处理
		if baseCtx.Err() == context.Canceled && !result.Outcome.IsSuccess() {
			result.Canceled = true
		}
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			log.Printf("⏱️ [执行超时] NodeID=%s, NodeName=%s, 超时时间=%ds",
				node.ID, node.Name, node.TimeoutSeconds)
			result.Outcome = task.Retryablef("任务执行超时（%d秒）", node.TimeoutSeconds)
		} else {
			log.Printf("🛑 [执行取消] NodeID=%s, NodeName=%s", node.ID, node.Name)
			result.Outcome = task.Failuref("任务已取消")
			result.Canceled = true
		}
	}
	result.Duration = time.Since(startTime)

	switch result.Outcome.Kind {
	case task.OutcomeSuccess:
		log.Printf("✅ [执行成功] NodeID=%s, NodeName=%s, 耗时=%dms",
			node.ID, node.Name, result.Duration.Milliseconds())
	default:
		if !result.Canceled {
			log.Printf("❌ [执行失败] NodeID=%s, NodeName=%s, 耗时=%dms, 原因=%s",
				node.ID, node.Name, result.Duration.Milliseconds(), result.Outcome.Reason)
		}
	}

	e.sendResult(sub, result)
}

// runAction 解析并执行任务Action（内部方法）
func (e *Executor) runAction(node *task.Task, taskCtx *task.TaskContext) task.Outcome {
	action := node.Action()
	if action == nil && node.ActionName != "" {
		registered, exists := e.registry.GetAction(node.ActionName)
		if !exists {
			// 配置错误，不可重试
			return task.Failuref("Action %s 未注册", node.ActionName)
		}
		action = registered
	}
	if action == nil {
		return task.Failuref("任务 %s 没有绑定Action", node.Name)
	}
	return action.Execute(taskCtx)
}

// evaluateGate 解析并评估门禁（内部方法）
// 评估过程出错按可重试失败处理，评估完成时无论Pass还是Fail
// 任务本身都算执行成功，门禁裁决由调度器单独消费
func (e *Executor) evaluateGate(node *task.Task, taskCtx *task.TaskContext) (task.Outcome, *task.GateResult) {
	gate := node.Gate()
	if gate == nil && node.GateName != "" {
		registered, exists := e.registry.GetGate(node.GateName)
		if !exists {
			return task.Failuref("Gate %s 未注册", node.GateName), nil
		}
		gate = registered
	}
	if gate == nil {
		return task.Failuref("门禁任务 %s 没有绑定Gate", node.Name), nil
	}

	gateResult, err := gate.Evaluate(taskCtx)
	if err != nil {
		return task.Retryablef("门禁评估出错: %v", err), nil
	}
	return task.Success(), &gateResult
}

// reportCanceled 执行器关闭时向调度器报告取消（内部方法）
func (e *Executor) reportCanceled(sub *Submission, reason string) {
	result := &AttemptResult{
		NodeID:    sub.Node.ID,
		Attempt:   sub.Attempt,
		Outcome:   task.Failuref("%s", reason),
		Canceled:  true,
		StartTime: time.Now(),
	}
	e.sendResult(sub, result)
}

// sendResult 将执行结果写回调度器（内部方法）
// 非阻塞发送，通道已满时记录警告，避免阻塞Worker
func (e *Executor) sendResult(sub *Submission, result *AttemptResult) {
	select {
	case sub.ResultChan <- result:
	default:
		log.Printf("警告: 结果通道已满，事件可能丢失: NodeID=%s", result.NodeID)
	}
}
