package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskContext 任务执行上下文，提供类型安全的API访问运行信息（对外导出）
// 每次派发时由引擎构造：携带运行级参数（执行日期、配置变量）、
// 节点级参数以及已完成上游节点的产出
type TaskContext struct {
	ctx           context.Context        // 底层context，用于超时、取消
	NodeID        string                 // 节点ID
	NodeName      string                 // 节点名称
	PipelineID    string                 // 所属Pipeline ID
	RunID         string                 // 本次运行ID
	Attempt       int                    // 当前尝试次数（从1开始）
	ExecutionDate time.Time              // 执行日期（调度触发时刻，供动作做数据分区）
	Params        map[string]interface{} // 合并后的参数（运行级+节点级+上游产出缓存）
}

// NewTaskContext 创建TaskContext（对外导出）
func NewTaskContext(ctx context.Context, nodeID, nodeName, pipelineID, runID string, params map[string]interface{}) *TaskContext {
	if params == nil {
		params = make(map[string]interface{})
	}
	return &TaskContext{
		ctx:        ctx,
		NodeID:     nodeID,
		NodeName:   nodeName,
		PipelineID: pipelineID,
		RunID:      runID,
		Params:     params,
	}
}

// Context 返回底层context.Context（对外导出）
// 用于超时、取消等标准context操作
func (tc *TaskContext) Context() context.Context {
	return tc.ctx
}

// Done 返回取消通知channel（对外导出）
// 所属分组失败时引擎会取消该channel，动作应尽快退出
func (tc *TaskContext) Done() <-chan struct{} {
	return tc.ctx.Done()
}

// Err 返回context的错误（对外导出）
func (tc *TaskContext) Err() error {
	return tc.ctx.Err()
}

// GetParam 获取参数值（对外导出）
// key: 参数名
// 返回: 参数值，如果不存在返回nil
func (tc *TaskContext) GetParam(key string) interface{} {
	if tc.Params == nil {
		return nil
	}
	return tc.Params[key]
}

// HasParam 检查参数是否存在（对外导出）
func (tc *TaskContext) HasParam(key string) bool {
	if tc.Params == nil {
		return false
	}
	_, exists := tc.Params[key]
	return exists
}

// GetParamString 获取字符串参数（对外导出）
func (tc *TaskContext) GetParamString(key string) string {
	val := tc.GetParam(key)
	if val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetParamInt 获取整数参数（对外导出）
func (tc *TaskContext) GetParamInt(key string) (int, error) {
	val := tc.GetParam(key)
	if val == nil {
		return 0, fmt.Errorf("参数 %s 不存在", key)
	}

	switch v := val.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		var i int
		_, err := fmt.Sscanf(v, "%d", &i)
		return i, err
	default:
		return 0, fmt.Errorf("参数 %s 类型不是整数，当前类型: %T", key, val)
	}
}

// GetParamBool 获取布尔参数（对外导出）
func (tc *TaskContext) GetParamBool(key string) (bool, error) {
	val := tc.GetParam(key)
	if val == nil {
		return false, fmt.Errorf("参数 %s 不存在", key)
	}

	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		return v == "true" || v == "1" || v == "yes", nil
	default:
		return false, fmt.Errorf("参数 %s 类型不是布尔值，当前类型: %T", key, val)
	}
}

// GetParamFloat 获取浮点数参数（对外导出）
func (tc *TaskContext) GetParamFloat(key string) (float64, error) {
	val := tc.GetParam(key)
	if val == nil {
		return 0, fmt.Errorf("参数 %s 不存在", key)
	}

	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		var f float64
		_, err := fmt.Sscanf(v, "%f", &f)
		return f, err
	default:
		return 0, fmt.Errorf("参数 %s 类型不是浮点数，当前类型: %T", key, val)
	}
}

// ========== 上游节点产出 API ==========

// upstreamCachePrefix 上游节点产出在Params中的缓存前缀
const upstreamCachePrefix = "_cached_"

// UpstreamCacheKey 构造上游产出的缓存键（对外导出，引擎写入时使用）
func UpstreamCacheKey(nodeID string) string {
	return upstreamCachePrefix + nodeID
}

// GetUpstreamResult 获取指定上游节点的产出（对外导出）
// nodeID: 上游节点ID
// 返回: 产出map，不存在时返回nil
func (tc *TaskContext) GetUpstreamResult(nodeID string) map[string]interface{} {
	if val := tc.GetParam(upstreamCachePrefix + nodeID); val != nil {
		if result, ok := val.(map[string]interface{}); ok {
			return result
		}
	}
	return nil
}

// GetAllUpstreamResults 获取所有上游节点的产出（对外导出）
// 返回: map[nodeID]产出
func (tc *TaskContext) GetAllUpstreamResults() map[string]map[string]interface{} {
	results := make(map[string]map[string]interface{})
	if tc.Params == nil {
		return results
	}
	for key, val := range tc.Params {
		if strings.HasPrefix(key, upstreamCachePrefix) {
			nodeID := strings.TrimPrefix(key, upstreamCachePrefix)
			if result, ok := val.(map[string]interface{}); ok {
				results[nodeID] = result
			}
		}
	}
	return results
}

// GetUpstreamValue 从上游节点产出中获取指定字段（对外导出）
func (tc *TaskContext) GetUpstreamValue(nodeID, field string) interface{} {
	if result := tc.GetUpstreamResult(nodeID); result != nil {
		return result[field]
	}
	return nil
}

// GetUpstreamString 从上游节点产出中获取字符串字段（对外导出）
func (tc *TaskContext) GetUpstreamString(nodeID, field string) string {
	val := tc.GetUpstreamValue(nodeID, field)
	if val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetUpstreamFloat 从上游节点产出中获取浮点数字段（对外导出）
func (tc *TaskContext) GetUpstreamFloat(nodeID, field string) (float64, error) {
	val := tc.GetUpstreamValue(nodeID, field)
	if val == nil {
		return 0, fmt.Errorf("上游节点 %s 的字段 %s 不存在", nodeID, field)
	}
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("上游节点 %s 的字段 %s 类型不是浮点数，当前类型: %T", nodeID, field, val)
	}
}
