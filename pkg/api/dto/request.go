package dto

// TriggerRunRequest 触发Run请求
type TriggerRunRequest struct {
	Params map[string]interface{} `json:"params" binding:"omitempty"`
}

// UploadPipelineRequest 上传Pipeline定义请求（YAML内容）
type UploadPipelineRequest struct {
	Content string `json:"content" binding:"required"`
}

// SetStatusRequest 设置Pipeline状态请求
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=ENABLED DISABLED"`
}

// CancelRunRequest 取消Run请求
type CancelRunRequest struct {
	Reason string `json:"reason" binding:"omitempty"`
}

// RunsQueryRequest Run历史查询请求
type RunsQueryRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// GetDefaultLimit 获取默认limit
func (r *RunsQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
