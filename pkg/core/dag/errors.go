package dag

import (
	"fmt"
	"strings"
)

// CycleError 循环依赖错误（对外导出）
// Path 按依赖方向记录循环路径，首尾节点相同
type CycleError struct {
	Path []string // 循环路径，如 [A, B, C, A]
}

// Error 实现error接口
func (e *CycleError) Error() string {
	return fmt.Sprintf("检测到循环依赖: %s", strings.Join(e.Path, " -> "))
}
