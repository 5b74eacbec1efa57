package dag

// NodeRef 依赖图节点引用（对外导出）
// 只携带编排需要的身份信息，任务定义本身由Pipeline持有
type NodeRef struct {
	NodeID   string // 节点ID
	NodeName string // 节点名称
}

// ID 实现go-dag的Identifiable接口
func (n *NodeRef) ID() string {
	return n.NodeID
}

// TopologicalOrder 拓扑排序结果（对外导出）
type TopologicalOrder struct {
	Levels [][]string // 每一层的节点ID列表，同层节点可以并行执行
}

// FlatOrder 展平的拓扑序（对外导出）
func (o *TopologicalOrder) FlatOrder() []string {
	flat := make([]string, 0)
	for _, level := range o.Levels {
		flat = append(flat, level...)
	}
	return flat
}
