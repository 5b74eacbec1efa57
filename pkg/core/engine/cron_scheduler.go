package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/LENAX/dagflow/pkg/core/pipeline"
)

// CronScheduler 定时调度器（对外导出）
// 按Pipeline的调度表达式周期性触发Run；同一Pipeline已有未结束的Run时
// 跳过本次触发，保证同一时刻至多一个活跃Run
type CronScheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	engine  *Engine
	entries map[string]cron.EntryID // pipelineID -> cron.EntryID
	names   map[string]string       // pipelineID -> pipelineName
	mu      sync.RWMutex
}

// NewCronScheduler 创建定时调度器（对外导出）
func NewCronScheduler(eng *Engine) *CronScheduler {
	// 秒字段可选：同时支持标准5段和秒级6段表达式
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		engine:  eng,
		entries: make(map[string]cron.EntryID),
		names:   make(map[string]string),
	}
}

// RegisterPipeline 注册Pipeline到定时调度器（对外导出）
func (cs *CronScheduler) RegisterPipeline(p *pipeline.Pipeline) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	// 检查是否已注册
	if _, exists := cs.entries[p.ID]; exists {
		return fmt.Errorf("Pipeline %s 已注册到定时调度器", p.Name)
	}

	// 检查调度表达式
	if p.Schedule == "" {
		return fmt.Errorf("Pipeline %s 未设置调度表达式", p.Name)
	}
	if _, err := cs.parser.Parse(p.Schedule); err != nil {
		return fmt.Errorf("Pipeline %s 的调度表达式无效: %w", p.Name, err)
	}

	// 添加Cron任务
	pipelineID, pipelineName := p.ID, p.Name
	entryID, err := cs.cron.AddFunc(p.Schedule, func() {
		cs.triggerPipeline(pipelineID, pipelineName)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}

	cs.entries[pipelineID] = entryID
	cs.names[pipelineID] = pipelineName

	log.Printf("✅ [Cron调度器] 已注册Pipeline: ID=%s, Name=%s, Schedule=%s",
		pipelineID, pipelineName, p.Schedule)
	return nil
}

// UnregisterPipeline 取消注册Pipeline（对外导出）
func (cs *CronScheduler) UnregisterPipeline(pipelineID string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entryID, exists := cs.entries[pipelineID]
	if !exists {
		return fmt.Errorf("Pipeline %s 未注册到定时调度器", pipelineID)
	}

	cs.cron.Remove(entryID)
	delete(cs.entries, pipelineID)
	delete(cs.names, pipelineID)

	log.Printf("✅ [Cron调度器] 已取消注册Pipeline: ID=%s", pipelineID)
	return nil
}

// triggerPipeline 触发Pipeline执行（内部方法）
func (cs *CronScheduler) triggerPipeline(pipelineID, pipelineName string) {
	// 上一个Run还没结束时跳过本次调度
	if active := cs.engine.ActiveRunCount(pipelineID); active > 0 {
		log.Printf("⚠️ [Cron调度器] Pipeline存在未结束的Run，跳过本次调度: Name=%s, 活跃Run数=%d",
			pipelineName, active)
		return
	}

	log.Printf("🕐 [Cron调度器] 触发Pipeline执行: ID=%s, Name=%s", pipelineID, pipelineName)

	manager, err := cs.engine.TriggerRun(context.Background(), pipelineID, pipeline.TriggerCron, nil)
	if err != nil {
		log.Printf("❌ [Cron调度器] 触发Run失败: Pipeline=%s, Error=%v", pipelineName, err)
		return
	}
	log.Printf("✅ [Cron调度器] Run已提交执行: Pipeline=%s, RunID=%s", pipelineName, manager.RunID())
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	log.Println("✅ [Cron调度器] 已启动")
}

// Stop 停止定时调度器（对外导出）
func (cs *CronScheduler) Stop() {
	cs.cron.Stop()
	log.Println("✅ [Cron调度器] 已停止")
}

// RegisteredPipelines 获取已注册的Pipeline ID列表，按ID排序（对外导出）
func (cs *CronScheduler) RegisteredPipelines() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	pipelineIDs := make([]string, 0, len(cs.entries))
	for pipelineID := range cs.entries {
		pipelineIDs = append(pipelineIDs, pipelineID)
	}
	sort.Strings(pipelineIDs)
	return pipelineIDs
}
