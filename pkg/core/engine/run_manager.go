package engine

import (
	"context"
	"fmt"
	"log"
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

const (
	// resultChanCapacityMin 结果通道最小容量
	resultChanCapacityMin = 100
	// nodeResultTTL 节点结果数据的缓存有效期
	nodeResultTTL = 24 * time.Hour
)

// RunManager 单次Run的运行管理器（对外导出）
// 内部采用单协程事件循环：执行结果、重试定时器、终止信号都汇入同一个
// select循环，所有运行时状态只由该协程读写，状态机流转无需加锁
type RunManager struct {
	run   *pipeline.Run
	pipe  *pipeline.Pipeline
	graph *dag.Graph

	exec    *executor.Executor
	bus     *event.Bus            // 事件总线，可为nil
	repo    storage.RunRepository // 持久化存储，可为nil
	plugins plugin.PluginManager  // 插件管理器，可为nil
	results cache.ResultCache     // 节点结果缓存

	// 运行时状态（仅事件循环协程读写）
	states        map[string]task.NodeState
	attempts      map[string]int
	status        map[string]*pipeline.NodeStatus
	groupStates   map[string]task.NodeState
	nodeCancels   map[string]context.CancelFunc
	retryTimers   map[string]*time.Timer
	cancelReasons map[string]string
	inflight      int
	terminating   bool
	finished      bool

	// 对外快照（事件循环写入，任意协程读取）
	nodeSnapshots  sync.Map // nodeID -> *pipeline.NodeStatus
	groupSnapshots sync.Map // groupID -> task.NodeState

	resultChan chan *executor.AttemptResult
	retryChan  chan string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.RWMutex // 保护run的可变字段与started/termReason
	started     bool
	termReason  string
	ownsResults bool
}

// NewRunManager 创建运行管理器（对外导出）
// graph必须是pipe编译后已通过验证的依赖图
func NewRunManager(
	run *pipeline.Run,
	pipe *pipeline.Pipeline,
	graph *dag.Graph,
	exec *executor.Executor,
	bus *event.Bus,
	repo storage.RunRepository,
	plugins plugin.PluginManager,
	results cache.ResultCache,
) (*RunManager, error) {
	// 1. 参数校验
	if run == nil {
		return nil, fmt.Errorf("Run不能为空")
	}
	if pipe == nil {
		return nil, fmt.Errorf("Pipeline不能为空")
	}
	if graph == nil || !graph.Validated() {
		return nil, fmt.Errorf("依赖图为空或未通过验证")
	}
	if exec == nil {
		return nil, fmt.Errorf("执行器不能为空")
	}

	ownsResults := false
	if results == nil {
		results = cache.NewMemoryResultCache()
		ownsResults = true
	}

	// 2. 通道容量按节点规模预留，避免执行协程阻塞在结果写回上
	total := graph.Size()
	capacity := total * 2
	if capacity < resultChanCapacityMin {
		capacity = resultChanCapacityMin
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &RunManager{
		run:           run,
		pipe:          pipe,
		graph:         graph,
		exec:          exec,
		bus:           bus,
		repo:          repo,
		plugins:       plugins,
		results:       results,
		states:        make(map[string]task.NodeState, total),
		attempts:      make(map[string]int, total),
		status:        make(map[string]*pipeline.NodeStatus, total),
		groupStates:   make(map[string]task.NodeState),
		nodeCancels:   make(map[string]context.CancelFunc),
		retryTimers:   make(map[string]*time.Timer),
		cancelReasons: make(map[string]string),
		resultChan:    make(chan *executor.AttemptResult, capacity),
		retryChan:     make(chan string, total),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		ownsResults:   ownsResults,
	}

	// 3. 初始化所有节点与分组的状态快照
	for _, nodeID := range graph.NodeIDs() {
		nodeName := nodeID
		if node, exists := pipe.Task(nodeID); exists {
			nodeName = node.Name
		}
		groupID, _ := pipe.GroupOf(nodeID)
		st := &pipeline.NodeStatus{
			NodeID:   nodeID,
			NodeName: nodeName,
			GroupID:  groupID,
			State:    task.StatePending,
		}
		m.states[nodeID] = task.StatePending
		m.status[nodeID] = st
		snap := *st
		m.nodeSnapshots.Store(nodeID, &snap)
	}
	for _, groupID := range pipe.GroupIDs() {
		m.groupStates[groupID] = task.StatePending
		m.groupSnapshots.Store(groupID, task.StatePending)
	}

	return m, nil
}

// Start 启动Run执行（对外导出）
func (m *RunManager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("Run %s 已启动", m.run.ID)
	}
	m.started = true
	m.run.State = task.RunStateRunning
	m.mu.Unlock()

	m.persistRun()
	m.publish(event.EventRunStarted, event.RunStartedPayload{
		PipelineName: m.run.PipelineName,
		TriggeredBy:  m.run.TriggeredBy,
		NodeTotal:    m.graph.Size(),
	})
	m.triggerPlugins(plugin.EventRunStarted,
		m.pluginData(plugin.EventRunStarted, "", string(task.RunStateRunning), ""))

	log.Printf("🚀 [Run管理器] Run开始执行: RunID=%s, Pipeline=%s, 节点数=%d",
		m.run.ID, m.run.PipelineName, m.graph.Size())

	go m.loop()
	return nil
}

// Cancel 请求终止Run（对外导出）
// 执行中的节点会被取消，未开始的节点标记为跳过，最终裁决为失败
func (m *RunManager) Cancel(reason string) {
	m.mu.Lock()
	if m.termReason == "" {
		m.termReason = reason
	}
	m.mu.Unlock()
	m.cancel()
}

// Done 返回Run结束信号通道（对外导出）
func (m *RunManager) Done() <-chan struct{} {
	return m.done
}

// Wait 阻塞等待Run结束（对外导出）
// timeout: 可选超时参数，如果提供则使用该超时，否则无限等待
func (m *RunManager) Wait(timeout ...time.Duration) error {
	if len(timeout) > 0 && timeout[0] > 0 {
		select {
		case <-m.done:
			return nil
		case <-time.After(timeout[0]):
			return fmt.Errorf("等待Run %s 完成超时（%v）", m.run.ID, timeout[0])
		}
	}
	<-m.done
	return nil
}

// RunID 返回Run ID（对外导出）
func (m *RunManager) RunID() string {
	return m.run.ID
}

// PipelineID 返回所属Pipeline ID（对外导出）
func (m *RunManager) PipelineID() string {
	return m.run.PipelineID
}

// State 返回当前Run状态（对外导出）
func (m *RunManager) State() task.RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.run.State
}

// Run 返回Run实例的快照副本（对外导出）
func (m *RunManager) Run() pipeline.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.run
}

// Report 构建当前时刻的完整运行报告（对外导出）
// 运行期间可随时调用，节点与分组按ID排序
func (m *RunManager) Report() *pipeline.RunReport {
	m.mu.RLock()
	runCopy := *m.run
	m.mu.RUnlock()

	report := &pipeline.RunReport{Run: &runCopy}
	for _, nodeID := range m.graph.NodeIDs() {
		if value, ok := m.nodeSnapshots.Load(nodeID); ok {
			report.Nodes = append(report.Nodes, *(value.(*pipeline.NodeStatus)))
		}
	}
	for _, groupID := range m.pipe.GroupIDs() {
		group, exists := m.pipe.Group(groupID)
		if !exists {
			continue
		}
		state := task.StatePending
		if value, ok := m.groupSnapshots.Load(groupID); ok {
			state = value.(task.NodeState)
		}
		report.Groups = append(report.Groups, pipeline.GroupStatus{
			GroupID:   groupID,
			GroupName: group.Name,
			State:     state,
		})
	}
	return report
}

// Progress 返回当前进度快照（对外导出）
func (m *RunManager) Progress() pipeline.ProgressSnapshot {
	return m.Report().Progress()
}

// loop 事件循环（内部方法，单协程运行）
func (m *RunManager) loop() {
	// 初始派发就绪节点
	m.dispatchReady()
	m.maybeFinish()

	ctxDone := m.ctx.Done()
	for !m.finished {
		select {
		case res := <-m.resultChan:
			m.handleResult(res)
		case nodeID := <-m.retryChan:
			m.handleRetryDue(nodeID)
		case <-ctxDone:
			ctxDone = nil
			m.beginTermination()
		}
	}
}

// stateOf 读取节点当前状态（内部方法，供依赖图查询回调）
func (m *RunManager) stateOf(nodeID string) task.NodeState {
	return m.states[nodeID]
}

// dispatchReady 派发所有就绪节点（内部方法）
// 就绪集按节点ID排序，派发顺序确定
func (m *RunManager) dispatchReady() {
	if m.finished || m.terminating {
		return
	}
	for _, nodeID := range m.graph.ReadySet(m.stateOf) {
		m.startNode(nodeID)
	}
}

// startNode 启动单个节点的一次尝试（内部方法）
func (m *RunManager) startNode(nodeID string) {
	state := m.states[nodeID]
	if state != task.StatePending && state != task.StateRetrying {
		return
	}

	node, exists := m.pipe.Task(nodeID)
	attempt := m.attempts[nodeID] + 1
	m.attempts[nodeID] = attempt
	m.transition(nodeID, task.StateRunning, attempt, "")

	if !exists {
		// Pipeline与依赖图不同步，直接判失败避免Run悬挂
		m.failNode(nodeID, attempt, "节点定义缺失")
		return
	}

	// 渲染参数：替换占位符并注入上游节点结果
	params, err := m.renderNodeParams(node)
	if err != nil {
		m.failNode(nodeID, attempt, fmt.Sprintf("参数渲染失败: %v", err))
		return
	}

	nodeCtx, cancelNode := context.WithCancel(m.ctx)
	m.nodeCancels[nodeID] = cancelNode

	submission := &executor.Submission{
		Ctx:          nodeCtx,
		RunID:        m.run.ID,
		PipelineID:   m.run.PipelineID,
		PipelineName: m.run.PipelineName,
		Node:         node,
		Attempt:      attempt,
		Params:       params,
		ResultChan:   m.resultChan,
	}
	if err := m.exec.Submit(submission); err != nil {
		cancelNode()
		delete(m.nodeCancels, nodeID)
		m.handleOutcome(nodeID, attempt, task.Retryablef("提交执行器失败: %v", err), nil)
		return
	}
	m.inflight++
}

// renderNodeParams 渲染节点参数（内部方法）
// 内置参数和Run参数替换占位符，直接上游的结果数据以缓存键注入
func (m *RunManager) renderNodeParams(node *task.Task) (map[string]interface{}, error) {
	rendered, err := pipeline.RenderParams(node.Params, pipeline.MergeRunParams(m.run))
	if err != nil {
		return nil, err
	}

	parents, err := m.graph.Parents(node.ID)
	if err != nil {
		return rendered, nil
	}
	for _, parentID := range parents {
		if data, exists := m.results.Get(m.run.ID, parentID); exists {
			rendered[task.UpstreamCacheKey(parentID)] = data
		}
	}
	return rendered, nil
}

// handleResult 处理一次执行结果（内部方法）
func (m *RunManager) handleResult(res *executor.AttemptResult) {
	if res == nil {
		return
	}
	nodeID := res.NodeID

	// 1. 回收执行计数与节点context
	m.inflight--
	if cancelNode, exists := m.nodeCancels[nodeID]; exists {
		cancelNode()
		delete(m.nodeCancels, nodeID)
	}

	// 2. 忽略迟到的结果
	if m.states[nodeID] != task.StateRunning {
		log.Printf("⚠️ [Run管理器] 忽略迟到的执行结果: RunID=%s, Node=%s, 当前状态=%s",
			m.run.ID, nodeID, m.states[nodeID])
		return
	}

	// 3. 记录门禁评估结果
	if res.GateResult != nil {
		m.status[nodeID].GateResult = res.GateResult
		m.publish(event.EventGateEvaluated, event.GateEvaluatedPayload{
			NodeID:   nodeID,
			NodeName: m.status[nodeID].NodeName,
			Passed:   res.GateResult.Passed,
			Detail:   res.GateResult.Detail,
		})
	}

	// 4. 被取消的尝试按跳过处理（同组失败或Run终止触发）
	if res.Canceled {
		m.skipNode(nodeID, m.takeCancelReason(nodeID))
		m.afterChange()
		return
	}

	// 5. 按执行结局流转状态
	m.handleOutcome(nodeID, res.Attempt, res.Outcome, res.GateResult)
	m.afterChange()
}

// handleOutcome 根据执行结局流转节点状态（内部方法）
func (m *RunManager) handleOutcome(nodeID string, attempt int, outcome task.Outcome, gateResult *task.GateResult) {
	node, exists := m.pipe.Task(nodeID)
	if !exists {
		m.failNode(nodeID, attempt, "节点定义缺失")
		return
	}

	switch {
	case outcome.IsSuccess():
		// 成功：缓存结果数据供下游注入
		if len(outcome.Data) > 0 {
			if err := m.results.Set(m.run.ID, nodeID, outcome.Data, nodeResultTTL); err != nil {
				log.Printf("⚠️ [Run管理器] 缓存节点结果失败: RunID=%s, Node=%s, Error=%v",
					m.run.ID, nodeID, err)
			}
		}
		m.transition(nodeID, task.StateSucceeded, attempt, "")

		// 门禁Fail与任务成败正交：节点自身成功结束，但全部后代跳过
		if gateResult != nil && !gateResult.Passed {
			m.handleGateFailure(nodeID, node, gateResult)
		}

	case outcome.IsRetryable() && attempt < node.MaxAttempts:
		// 可重试失败且有剩余次数：进入重试等待
		delay := node.RetryDelayFor(attempt)
		m.transition(nodeID, task.StateRetrying, attempt, outcome.Reason)
		m.scheduleRetry(nodeID, delay)
		m.triggerPlugins(plugin.EventNodeRetrying,
			m.pluginData(plugin.EventNodeRetrying, nodeID, string(task.StateRetrying), outcome.Reason))
		log.Printf("🔄 [Run管理器] 节点进入重试等待: RunID=%s, Node=%s, 尝试=%d/%d, 延迟=%v",
			m.run.ID, nodeID, attempt, node.MaxAttempts, delay)

	default:
		// 不可重试失败，或重试次数耗尽
		reason := outcome.Reason
		if outcome.IsRetryable() {
			exhausted := &task.ExhaustedError{
				NodeID:   nodeID,
				NodeName: node.Name,
				Attempts: attempt,
				Reason:   outcome.Reason,
			}
			reason = exhausted.Error()
		}
		m.failNode(nodeID, attempt, reason)
	}
}

// failNode 节点最终失败（内部方法）
// 记录Run级失败信息，连带取消同组兄弟，并把失败传播为下游跳过
func (m *RunManager) failNode(nodeID string, attempt int, reason string) {
	m.transition(nodeID, task.StateFailed, attempt, reason)

	// 1. 首个失败记录为Run级失败信息
	m.mu.Lock()
	if m.run.FailureNodeID == "" {
		m.run.FailureNodeID = nodeID
		m.run.FailureReason = reason
	}
	m.mu.Unlock()

	log.Printf("❌ [Run管理器] 节点失败: RunID=%s, Node=%s, 原因=%s", m.run.ID, nodeID, reason)
	m.triggerPlugins(plugin.EventNodeFailed,
		m.pluginData(plugin.EventNodeFailed, nodeID, string(task.StateFailed), reason))

	// 2. 同组兄弟节点连带取消
	if groupID, exists := m.pipe.GroupOf(nodeID); exists {
		m.cancelGroupSiblings(groupID, nodeID)
	}

	// 3. 失败沿依赖边传播为下游跳过
	m.propagateSkips()
}

// handleGateFailure 处理质量门禁未通过（内部方法）
// 门禁节点自身已Succeeded，跳过其全部后代并记录Run级失败
func (m *RunManager) handleGateFailure(nodeID string, node *task.Task, gateResult *task.GateResult) {
	reason := fmt.Sprintf("质量门禁 %s 未通过", node.Name)
	if gateResult.Detail != "" {
		reason = fmt.Sprintf("质量门禁 %s 未通过: %s", node.Name, gateResult.Detail)
	}

	log.Printf("🚦 [Run管理器] 质量门禁未通过: RunID=%s, Node=%s, 详情=%s",
		m.run.ID, nodeID, gateResult.Detail)
	m.triggerPlugins(plugin.EventGateFailed,
		m.pluginData(plugin.EventGateFailed, nodeID, string(task.StateSucceeded), reason))

	// 1. 查询后代节点
	// 末端门禁没有后代可跳过，评估结果已记录在节点报告中，Run裁决不受影响
	descendants, err := m.graph.Descendants(nodeID)
	if err != nil {
		log.Printf("⚠️ [Run管理器] 查询后代节点失败: RunID=%s, Node=%s, Error=%v",
			m.run.ID, nodeID, err)
		return
	}
	if len(descendants) == 0 {
		return
	}

	// 2. 门禁Fail记录为Run级失败信息，失败节点指向门禁自身
	m.mu.Lock()
	if m.run.FailureNodeID == "" {
		m.run.FailureNodeID = nodeID
		m.run.FailureReason = reason
	}
	m.mu.Unlock()

	// 3. 跳过全部后代节点
	for _, descID := range descendants {
		switch m.states[descID] {
		case task.StatePending:
			m.skipNode(descID, reason)
		case task.StateRetrying:
			m.stopRetryTimer(descID)
			m.skipNode(descID, reason)
		}
	}
}

// cancelGroupSiblings 取消失败节点的同组兄弟（内部方法）
func (m *RunManager) cancelGroupSiblings(groupID, failedNodeID string) {
	group, exists := m.pipe.Group(groupID)
	if !exists {
		return
	}

	reason := fmt.Sprintf("同组节点 %s 失败", failedNodeID)
	for _, memberID := range group.MemberIDs() {
		if memberID == failedNodeID {
			continue
		}
		switch m.states[memberID] {
		case task.StatePending:
			m.skipNode(memberID, reason)
		case task.StateRetrying:
			m.stopRetryTimer(memberID)
			m.skipNode(memberID, reason)
		case task.StateRunning:
			// 取消执行中的兄弟，结果回报时按跳过处理
			m.cancelReasons[memberID] = reason
			if cancelNode, exists := m.nodeCancels[memberID]; exists {
				cancelNode()
			}
		}
	}
}

// propagateSkips 把失败和跳过传播给下游（内部方法）
// 反复扫描直到不再有新的节点需要跳过
func (m *RunManager) propagateSkips() {
	for {
		changed := false
		for _, nodeID := range m.graph.NodeIDs() {
			state := m.states[nodeID]
			if state != task.StatePending && state != task.StateRetrying {
				continue
			}
			parents, err := m.graph.Parents(nodeID)
			if err != nil {
				continue
			}
			for _, parentID := range parents {
				parentState := m.states[parentID]
				if parentState == task.StateFailed || parentState == task.StateSkipped {
					m.stopRetryTimer(nodeID)
					m.skipNode(nodeID, fmt.Sprintf("上游节点 %s 未成功", parentID))
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

// skipNode 节点跳过（内部方法）
func (m *RunManager) skipNode(nodeID, reason string) {
	m.transition(nodeID, task.StateSkipped, m.attempts[nodeID], reason)
}

// takeCancelReason 取出节点的取消原因（内部方法）
func (m *RunManager) takeCancelReason(nodeID string) string {
	if reason, exists := m.cancelReasons[nodeID]; exists {
		delete(m.cancelReasons, nodeID)
		return reason
	}
	m.mu.RLock()
	reason := m.termReason
	m.mu.RUnlock()
	if reason == "" {
		reason = "执行已取消"
	}
	return reason
}

// scheduleRetry 启动重试定时器（内部方法）
func (m *RunManager) scheduleRetry(nodeID string, delay time.Duration) {
	m.stopRetryTimer(nodeID)
	m.retryTimers[nodeID] = time.AfterFunc(delay, func() {
		select {
		case m.retryChan <- nodeID:
		case <-m.ctx.Done():
		}
	})
}

// stopRetryTimer 停止重试定时器（内部方法）
func (m *RunManager) stopRetryTimer(nodeID string) {
	if timer, exists := m.retryTimers[nodeID]; exists {
		timer.Stop()
		delete(m.retryTimers, nodeID)
	}
}

// handleRetryDue 重试定时器到期（内部方法）
func (m *RunManager) handleRetryDue(nodeID string) {
	delete(m.retryTimers, nodeID)
	if m.terminating || m.finished {
		return
	}
	if m.states[nodeID] != task.StateRetrying {
		// 等待期间已被跳过
		return
	}
	log.Printf("🔄 [Run管理器] 重试定时器触发: RunID=%s, Node=%s", m.run.ID, nodeID)
	m.startNode(nodeID)
	m.afterChange()
}

// transition 执行单次节点状态流转（内部方法）
// 更新状态快照、发布变迁事件、持久化并重算分组聚合状态
func (m *RunManager) transition(nodeID string, newState task.NodeState, attempt int, reason string) {
	oldState := m.states[nodeID]
	if oldState == newState {
		return
	}
	if !oldState.CanTransitionTo(newState) {
		log.Printf("⚠️ [Run管理器] 非法状态流转被忽略: RunID=%s, Node=%s, %s -> %s",
			m.run.ID, nodeID, oldState, newState)
		return
	}

	m.states[nodeID] = newState
	st := m.status[nodeID]
	st.State = newState
	st.Attempts = attempt
	st.Reason = reason
	now := time.Now()
	if newState == task.StateRunning && st.StartTime.IsZero() {
		st.StartTime = now
	}
	if newState.IsTerminal() {
		st.EndTime = now
	}
	snap := *st
	m.nodeSnapshots.Store(nodeID, &snap)

	m.publish(event.EventNodeTransition, event.NodeTransitionPayload{
		NodeID:   nodeID,
		NodeName: st.NodeName,
		GroupID:  st.GroupID,
		OldState: oldState,
		NewState: newState,
		Attempt:  attempt,
		Reason:   reason,
	})
	m.persistNodeStatus(st)
	m.refreshGroupState(nodeID)
}

// refreshGroupState 重算节点所属分组的聚合状态（内部方法）
func (m *RunManager) refreshGroupState(nodeID string) {
	groupID, exists := m.pipe.GroupOf(nodeID)
	if !exists {
		return
	}
	group, exists := m.pipe.Group(groupID)
	if !exists {
		return
	}

	newState := group.AggregateState(m.stateOf)
	oldState := m.groupStates[groupID]
	if newState == oldState {
		return
	}

	m.groupStates[groupID] = newState
	m.groupSnapshots.Store(groupID, newState)
	m.publish(event.EventGroupStateChanged, event.GroupStatePayload{
		GroupID:   groupID,
		GroupName: group.Name,
		OldState:  oldState,
		NewState:  newState,
	})
	log.Printf("📊 [Run管理器] 分组状态变化: RunID=%s, Group=%s, %s -> %s",
		m.run.ID, groupID, oldState, newState)
}

// afterChange 状态变化后的统一收尾（内部方法）
// 先派发新就绪的节点，再检查Run是否已全部解析
func (m *RunManager) afterChange() {
	if m.finished {
		return
	}
	m.dispatchReady()
	m.maybeFinish()
}

// maybeFinish 所有节点到达终态时结束Run（内部方法）
func (m *RunManager) maybeFinish() {
	if m.finished {
		return
	}
	if m.graph.IsResolved(m.stateOf) {
		m.finalize()
	}
}

// beginTermination 开始终止流程（内部方法）
// 未开始和等待重试的节点直接跳过，执行中的节点随context取消后回报结果
func (m *RunManager) beginTermination() {
	if m.terminating || m.finished {
		return
	}
	m.terminating = true

	m.mu.RLock()
	reason := m.termReason
	m.mu.RUnlock()
	if reason == "" {
		reason = "Run已终止"
	}

	log.Printf("🛑 [Run管理器] Run开始终止: RunID=%s, 原因=%s, 执行中=%d",
		m.run.ID, reason, m.inflight)

	for _, nodeID := range m.graph.NodeIDs() {
		switch m.states[nodeID] {
		case task.StatePending:
			m.skipNode(nodeID, reason)
		case task.StateRetrying:
			m.stopRetryTimer(nodeID)
			m.skipNode(nodeID, reason)
		}
	}

	m.maybeFinish()
}

// finalize 结束Run并计算最终裁决（内部方法）
func (m *RunManager) finalize() {
	if m.finished {
		return
	}
	m.finished = true

	// 1. 最终裁决：所有节点Succeeded则成功，否则失败
	verdict := task.RunStateSucceeded
	for _, nodeID := range m.graph.NodeIDs() {
		if m.states[nodeID] != task.StateSucceeded {
			verdict = task.RunStateFailed
			break
		}
	}

	// 2. 更新Run状态
	m.mu.Lock()
	m.run.State = verdict
	m.run.EndTime = time.Now()
	if verdict == task.RunStateFailed && m.run.FailureReason == "" && m.termReason != "" {
		m.run.FailureReason = m.termReason
	}
	m.mu.Unlock()

	// 3. 持久化并发布结束事件
	m.persistRun()
	report := m.Report()
	progress := report.Progress()
	m.publish(event.EventRunFinished, event.RunFinishedPayload{
		State:         verdict,
		FailureNodeID: report.Run.FailureNodeID,
		FailureReason: report.Run.FailureReason,
		DurationMS:    report.Run.Duration().Milliseconds(),
		Total:         progress.Total,
		Succeeded:     progress.Succeeded,
		Failed:        progress.Failed,
		Skipped:       progress.Skipped,
	})

	// 4. 触发插件，附带完整报告供告警类插件使用
	pluginEvent := plugin.EventRunSucceeded
	if verdict == task.RunStateFailed {
		pluginEvent = plugin.EventRunFailed
	}
	data := m.pluginData(pluginEvent, report.Run.FailureNodeID, string(verdict), report.Run.FailureReason)
	data.Data["summary"] = report.Summary()
	data.Data["report"] = report
	m.triggerPlugins(pluginEvent, data)

	if verdict == task.RunStateSucceeded {
		log.Printf("✅ [Run管理器] Run执行成功: RunID=%s, 耗时=%v", m.run.ID, report.Run.Duration())
	} else {
		log.Printf("❌ [Run管理器] Run执行失败: RunID=%s, 失败节点=%s, 原因=%s",
			m.run.ID, report.Run.FailureNodeID, report.Run.FailureReason)
	}

	// 5. 清理：取消context停止遗留定时器，释放管理器自有的结果缓存
	m.cancel()
	if m.ownsResults {
		m.results.Close()
	}
	close(m.done)
}

// publish 发布运行事件（内部方法）
func (m *RunManager) publish(eventType event.EventType, payload interface{}) {
	if m.bus == nil {
		return
	}
	evt := event.NewEvent(eventType, m.run.PipelineID, m.run.ID, payload)
	if err := m.bus.Publish(evt); err != nil {
		log.Printf("⚠️ [Run管理器] 发布事件失败: Type=%s, Error=%v", eventType, err)
	}
}

// triggerPlugins 异步触发插件（内部方法）
func (m *RunManager) triggerPlugins(eventType plugin.TriggerEvent, data plugin.PluginData) {
	if m.plugins == nil {
		return
	}
	go func() {
		if err := m.plugins.Trigger(context.Background(), eventType, data); err != nil {
			log.Printf("⚠️ [Run管理器] 插件触发失败: Event=%s, Error=%v", eventType, err)
		}
	}()
}

// pluginData 构造插件数据（内部方法）
func (m *RunManager) pluginData(eventType plugin.TriggerEvent, nodeID, state, reason string) plugin.PluginData {
	data := plugin.PluginData{
		Event:        eventType,
		PipelineID:   m.run.PipelineID,
		PipelineName: m.run.PipelineName,
		RunID:        m.run.ID,
		NodeID:       nodeID,
		State:        state,
		Reason:       reason,
		Data:         make(map[string]interface{}),
	}
	if nodeID != "" {
		if node, exists := m.pipe.Task(nodeID); exists {
			data.NodeName = node.Name
		}
	}
	return data
}

// persistRun 持久化Run状态（内部方法，失败仅记录日志）
func (m *RunManager) persistRun() {
	if m.repo == nil {
		return
	}
	m.mu.RLock()
	runCopy := *m.run
	m.mu.RUnlock()
	if err := m.repo.UpdateRun(context.Background(), &runCopy); err != nil {
		log.Printf("⚠️ [Run管理器] 保存Run状态失败: RunID=%s, Error=%v", m.run.ID, err)
	}
}

// persistNodeStatus 持久化节点状态（内部方法，失败仅记录日志）
func (m *RunManager) persistNodeStatus(status *pipeline.NodeStatus) {
	if m.repo == nil {
		return
	}
	snap := *status
	if err := m.repo.SaveNodeStatus(context.Background(), m.run.ID, &snap); err != nil {
		log.Printf("⚠️ [Run管理器] 保存节点状态失败: RunID=%s, Node=%s, Error=%v",
			m.run.ID, status.NodeID, err)
	}
}
