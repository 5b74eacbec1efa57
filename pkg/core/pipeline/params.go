package pipeline

import (
	"fmt"
	"strings"
)

// ReplacePlaceholder 替换单个占位符字符串（对外导出）
// value: 可能包含占位符的字符串，完整形如 ${name}
// params: 参数映射，key为占位符名称（不含${}），value为实际值
// 返回替换后的字符串和是否成功替换
func ReplacePlaceholder(value string, params map[string]interface{}) (string, bool) {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value, false
	}

	// 提取占位符名称（去除${和}）
	paramName := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
	if paramName == "" {
		return value, false
	}

	actualValue, exists := params[paramName]
	if !exists {
		return value, false
	}

	// 将实际值转换为字符串
	var strValue string
	switch v := actualValue.(type) {
	case string:
		strValue = v
	case nil:
		strValue = ""
	default:
		strValue = fmt.Sprintf("%v", v)
	}

	return strValue, true
}

// RenderParams 渲染参数表中的占位符（对外导出）
// 返回渲染后的新map，不修改输入。任务定义在运行期保持只读，
// 每次运行都基于定义重新渲染
// 存在无法解析的占位符时返回未解析名称列表和错误
func RenderParams(raw map[string]interface{}, replacements map[string]interface{}) (map[string]interface{}, error) {
	rendered := make(map[string]interface{}, len(raw))
	var unreplaced []string

	for key, value := range raw {
		strValue, ok := value.(string)
		if !ok {
			// 非string类型原样保留
			rendered[key] = value
			continue
		}

		replaced, success := ReplacePlaceholder(strValue, replacements)
		if success {
			rendered[key] = replaced
		} else if strings.HasPrefix(strValue, "${") && strings.HasSuffix(strValue, "}") {
			// 占位符格式但未找到对应的参数值
			paramName := strings.TrimPrefix(strings.TrimSuffix(strValue, "}"), "${")
			unreplaced = append(unreplaced, paramName)
			rendered[key] = strValue
		} else {
			rendered[key] = strValue
		}
	}

	if len(unreplaced) > 0 {
		return rendered, fmt.Errorf("以下占位符未找到对应的参数值: %v", unreplaced)
	}
	return rendered, nil
}

// BuiltinParams 返回一次运行的内置参数（对外导出）
// 任务参数中可以通过 ${ds}、${run_id} 等占位符引用
func BuiltinParams(run *Run) map[string]interface{} {
	return map[string]interface{}{
		"run_id":        run.ID,
		"pipeline_id":   run.PipelineID,
		"pipeline_name": run.PipelineName,
		"ds":            run.ExecutionDate.Format("2006-01-02"),
		"execution_ts":  run.ExecutionDate.Format("2006-01-02T15:04:05"),
	}
}

// MergeRunParams 合并运行参数与内置参数（对外导出）
// 内置参数优先级最低，不覆盖同名的用户参数
func MergeRunParams(run *Run) map[string]interface{} {
	merged := BuiltinParams(run)
	for key, value := range run.Params {
		merged[key] = value
	}
	return merged
}
