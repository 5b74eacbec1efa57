package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/dagflow/pkg/api/dto"
	"github.com/LENAX/dagflow/pkg/core/engine"
	"github.com/LENAX/dagflow/pkg/core/pipeline"
)

// RunHandler Run API处理器
type RunHandler struct {
	engine *engine.Engine
}

// NewRunHandler 创建RunHandler
func NewRunHandler(eng *engine.Engine) *RunHandler {
	return &RunHandler{engine: eng}
}

// Get 获取Run详情（含节点明细与进度）
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	report, err := h.engine.GetRunReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, fmt.Sprintf("查询Run失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(toRunDetail(report)))
}

// Progress 获取Run进度快照
// GET /api/v1/runs/:id/progress
func (h *RunHandler) Progress(c *gin.Context) {
	snapshot, exists := h.engine.GetProgress(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "Run不存在或已结束"))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(toProgressInfo(snapshot)))
}

// Cancel 取消Run
// POST /api/v1/runs/:id/cancel
func (h *RunHandler) Cancel(c *gin.Context) {
	var req dto.CancelRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "API取消"
	}

	if err := h.engine.CancelRun(c.Param("id"), reason); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("取消Run失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "取消请求已提交",
		"id":      c.Param("id"),
	}))
}

// toRunDetail 构建Run详情（内部方法）
func toRunDetail(report *pipeline.RunReport) dto.RunDetail {
	detail := dto.RunDetail{
		RunSummary: toRunSummary(report.Run),
		Params:     report.Run.Params,
		Progress:   toProgressInfo(report.Progress()),
		Nodes:      make([]dto.NodeStatusDetail, 0, len(report.Nodes)),
		Groups:     make([]dto.GroupStatusDetail, 0, len(report.Groups)),
	}

	for _, node := range report.Nodes {
		nodeDetail := dto.NodeStatusDetail{
			NodeID:   node.NodeID,
			NodeName: node.NodeName,
			GroupID:  node.GroupID,
			State:    string(node.State),
			Attempts: node.Attempts,
			Reason:   node.Reason,
		}
		if node.GateResult != nil {
			passed := node.GateResult.Passed
			nodeDetail.GatePassed = &passed
			nodeDetail.GateDetail = node.GateResult.Detail
		}
		if !node.StartTime.IsZero() {
			start := node.StartTime
			nodeDetail.StartedAt = &start
		}
		if !node.EndTime.IsZero() {
			end := node.EndTime
			nodeDetail.FinishedAt = &end
			if !node.StartTime.IsZero() {
				nodeDetail.Duration = formatDuration(node.EndTime.Sub(node.StartTime))
			}
		}
		detail.Nodes = append(detail.Nodes, nodeDetail)
	}

	for _, group := range report.Groups {
		detail.Groups = append(detail.Groups, dto.GroupStatusDetail{
			GroupID:   group.GroupID,
			GroupName: group.GroupName,
			State:     string(group.State),
		})
	}
	return detail
}

// toProgressInfo 转换进度快照
func toProgressInfo(s pipeline.ProgressSnapshot) dto.ProgressInfo {
	return dto.ProgressInfo{
		Total:          s.Total,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Skipped:        s.Skipped,
		Running:        s.Running,
		Retrying:       s.Retrying,
		Pending:        s.Pending,
		RunningNodeIDs: s.RunningNodeIDs,
	}
}
