package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/dagflow/pkg/api/dto"
	"github.com/LENAX/dagflow/pkg/config"
	"github.com/LENAX/dagflow/pkg/core/engine"
	"github.com/LENAX/dagflow/pkg/core/pipeline"
)

// PipelineHandler Pipeline API处理器
type PipelineHandler struct {
	engine *engine.Engine
}

// NewPipelineHandler 创建PipelineHandler
func NewPipelineHandler(eng *engine.Engine) *PipelineHandler {
	return &PipelineHandler{engine: eng}
}

// List 列出所有Pipeline
// GET /api/v1/pipelines
func (h *PipelineHandler) List(c *gin.Context) {
	pipelines := h.engine.ListPipelines()

	items := make([]dto.PipelineSummary, 0, len(pipelines))
	for _, p := range pipelines {
		items = append(items, h.toSummary(p))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.PipelineSummary]{
		Total:   len(items),
		Items:   items,
		HasMore: false,
	}))
}

// Get 获取Pipeline详情
// GET /api/v1/pipelines/:id
func (h *PipelineHandler) Get(c *gin.Context) {
	p, exists := h.engine.GetPipeline(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "Pipeline不存在"))
		return
	}

	tasks := make([]dto.TaskSummary, 0, p.TaskCount())
	for _, nodeID := range p.TaskIDs() {
		t, ok := p.Task(nodeID)
		if !ok {
			continue
		}
		groupID, _ := p.GroupOf(nodeID)
		tasks = append(tasks, dto.TaskSummary{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			GroupID:     groupID,
			IsGate:      t.IsGate(),
			MaxAttempts: t.MaxAttempts,
			Timeout:     t.TimeoutSeconds,
		})
	}

	groups := make([]dto.GroupSummary, 0)
	for _, groupID := range p.GroupIDs() {
		g, ok := p.Group(groupID)
		if !ok {
			continue
		}
		groups = append(groups, dto.GroupSummary{
			ID:        g.ID,
			Name:      g.Name,
			TaskCount: g.Size(),
		})
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.PipelineDetail{
		PipelineSummary: h.toSummary(p),
		Params:          p.Params,
		Tasks:           tasks,
		Groups:          groups,
	}))
}

// Upload 上传Pipeline定义（YAML）
// POST /api/v1/pipelines
func (h *PipelineHandler) Upload(c *gin.Context) {
	var req dto.UploadPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	cfg, err := config.ParsePipelineConfig([]byte(req.Content))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("解析Pipeline定义失败: %v", err)))
		return
	}

	p, err := cfg.ToPipeline(h.engine.GetRegistry())
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("编译Pipeline失败: %v", err)))
		return
	}

	if err := h.engine.RegisterPipeline(p); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("注册Pipeline失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.toSummary(p)))
}

// Delete 注销Pipeline
// DELETE /api/v1/pipelines/:id
func (h *PipelineHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.UnregisterPipeline(id); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("注销Pipeline失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "注销成功",
		"id":      id,
	}))
}

// SetStatus 启用或停用Pipeline
// POST /api/v1/pipelines/:id/status
func (h *PipelineHandler) SetStatus(c *gin.Context) {
	var req dto.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	if err := h.engine.SetPipelineStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("更新状态失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{"status": req.Status}))
}

// Trigger 触发一次Run
// POST /api/v1/pipelines/:id/trigger
func (h *PipelineHandler) Trigger(c *gin.Context) {
	var req dto.TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	rm, err := h.engine.TriggerRun(c.Request.Context(), c.Param("id"), pipeline.TriggerAPI, req.Params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("触发Run失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.TriggerResponse{
		RunID:   rm.RunID(),
		Message: "Run已提交执行",
	}))
}

// Runs 查询Pipeline的Run历史
// GET /api/v1/pipelines/:id/runs
func (h *PipelineHandler) Runs(c *gin.Context) {
	var query dto.RunsQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	runs, err := h.engine.ListRuns(c.Request.Context(), c.Param("id"), query.GetDefaultLimit())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询Run历史失败: %v", err)))
		return
	}

	items := make([]dto.RunSummary, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunSummary(run))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.RunSummary]{
		Total:   len(items),
		Items:   items,
		HasMore: false,
	}))
}

// toSummary 构建Pipeline摘要（内部方法）
func (h *PipelineHandler) toSummary(p *pipeline.Pipeline) dto.PipelineSummary {
	return dto.PipelineSummary{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		TaskCount:   p.TaskCount(),
		Status:      p.Status,
		Schedule:    p.Schedule,
		ActiveRuns:  h.engine.ActiveRunCount(p.ID),
		CreatedAt:   p.CreateTime,
	}
}

// toRunSummary 构建Run摘要
func toRunSummary(run *pipeline.Run) dto.RunSummary {
	summary := dto.RunSummary{
		ID:            run.ID,
		PipelineID:    run.PipelineID,
		PipelineName:  run.PipelineName,
		State:         string(run.State),
		TriggeredBy:   run.TriggeredBy,
		StartedAt:     run.StartTime,
		FailureNode:   run.FailureNodeID,
		FailureReason: run.FailureReason,
	}
	if !run.EndTime.IsZero() {
		end := run.EndTime
		summary.FinishedAt = &end
		summary.Duration = formatDuration(run.Duration())
	}
	return summary
}
