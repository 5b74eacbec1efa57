package task

import (
	"time"

	"github.com/google/uuid"
)

// 重试策略默认值，复刻数据仓库流水线的原始策略
const (
	// DefaultMaxAttempts 默认最大尝试次数（首次执行+2次重试）
	DefaultMaxAttempts = 3
	// DefaultRetryDelay 默认重试间隔
	DefaultRetryDelay = 5 * time.Minute
	// DefaultTimeoutSeconds 默认单次执行超时（秒），0表示不限制
	DefaultTimeoutSeconds = 0
)

// 退避策略取值
const (
	// BackoffFixed 固定间隔重试
	BackoffFixed = "fixed"
	// BackoffExponential 指数退避重试（delay * 2^(attempt-1)）
	BackoffExponential = "exponential"
)

// Task 任务定义（对外导出）
// 描述DAG中的一个原子工作单元；拓扑构建完成后定义不可变，
// 运行期状态（state、attempt）由调度循环单独维护
type Task struct {
	ID          string                 `json:"id"`          // DAG内唯一标识
	Name        string                 `json:"name"`        // 任务名称
	Description string                 `json:"description"` // 任务描述
	ActionName  string                 `json:"action_name"` // 注册中心中的动作名称（与Action二选一）
	GateName    string                 `json:"gate_name"`   // 注册中心中的门禁名称（门禁任务使用）
	Params      map[string]interface{} `json:"params"`      // 任务级参数，合并进运行上下文

	MaxAttempts    int           `json:"max_attempts"`    // 最大尝试次数（含首次执行）
	RetryDelay     time.Duration `json:"retry_delay"`     // 重试间隔
	Backoff        string        `json:"backoff"`         // 退避策略：fixed/exponential
	TimeoutSeconds int           `json:"timeout_seconds"` // 单次执行超时（秒），0表示不限制

	CreateTime time.Time `json:"create_time"` // 创建时间

	action Action // 直接绑定的动作（编程式构建使用）
	gate   Gate   // 直接绑定的门禁
}

// NewTask 创建任务定义（对外导出）
// 自动生成UUID，应用默认重试策略
func NewTask(name, description string, action Action) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Params:      make(map[string]interface{}),
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		Backoff:     BackoffFixed,
		CreateTime:  time.Now(),
		action:      action,
	}
}

// NewGateTask 创建质量门禁任务（对外导出）
// 门禁与普通任务共用同一套状态机，额外产出GateResult
func NewGateTask(name, description string, gate Gate) *Task {
	t := NewTask(name, description, nil)
	t.gate = gate
	return t
}

// Action 获取绑定的动作（对外导出）
// 未直接绑定时返回nil，由引擎通过ActionName从注册中心解析
func (t *Task) Action() Action {
	return t.action
}

// BindAction 绑定动作（对外导出）
func (t *Task) BindAction(action Action) {
	t.action = action
}

// Gate 获取绑定的门禁（对外导出）
func (t *Task) Gate() Gate {
	return t.gate
}

// BindGate 绑定门禁（对外导出）
func (t *Task) BindGate(gate Gate) {
	t.gate = gate
}

// IsGate 判断是否为质量门禁任务（对外导出）
func (t *Task) IsGate() bool {
	return t.gate != nil || t.GateName != ""
}

// SetParam 设置任务级参数（对外导出）
func (t *Task) SetParam(key string, value interface{}) {
	if t.Params == nil {
		t.Params = make(map[string]interface{})
	}
	t.Params[key] = value
}

// RetryDelayFor 计算第attempt次失败后的重试等待时长（对外导出）
// attempt从1开始计数；固定策略恒为RetryDelay，指数策略按2的幂放大
func (t *Task) RetryDelayFor(attempt int) time.Duration {
	if t.Backoff != BackoffExponential || attempt <= 1 {
		return t.RetryDelay
	}
	delay := t.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
