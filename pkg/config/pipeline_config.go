package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/dagflow/pkg/core/builder"
	"github.com/LENAX/dagflow/pkg/core/pipeline"
	"github.com/LENAX/dagflow/pkg/core/task"
)

// PipelineConfig Pipeline的YAML定义（对外导出）
// 声明式描述任务、分组与依赖，动作和门禁按名称从注册中心解析
type PipelineConfig struct {
	Name         string                 `yaml:"name"`         // Pipeline名称
	Description  string                 `yaml:"description"`  // 描述
	Schedule     string                 `yaml:"schedule"`     // cron表达式，空表示不调度
	Params       map[string]interface{} `yaml:"params"`       // Pipeline级参数
	Tasks        []TaskConfig           `yaml:"tasks"`        // 顶层任务
	Groups       []GroupConfig          `yaml:"groups"`       // 任务分组
	Dependencies []DependencyConfig     `yaml:"dependencies"` // 顶层依赖边
}

// TaskConfig 任务节点的YAML定义（对外导出）
type TaskConfig struct {
	Name        string                 `yaml:"name"`         // 节点名称
	Description string                 `yaml:"description"`  // 描述
	Action      string                 `yaml:"action"`       // 注册中心里的动作名称（与gate二选一）
	Gate        string                 `yaml:"gate"`         // 注册中心里的门禁名称
	Params      map[string]interface{} `yaml:"params"`       // 节点级参数
	MaxAttempts int                    `yaml:"max_attempts"` // 最大尝试次数，0使用默认值
	RetryDelay  Duration               `yaml:"retry_delay"`  // 重试间隔，0使用默认值
	Backoff     string                 `yaml:"backoff"`      // 退避策略：fixed/exponential
	Timeout     int                    `yaml:"timeout"`      // 单次执行超时（秒）
	DependsOn   []string               `yaml:"depends_on"`   // 上游节点名称列表
}

// GroupConfig 任务分组的YAML定义（对外导出）
type GroupConfig struct {
	Name         string             `yaml:"name"`         // 分组名称
	Description  string             `yaml:"description"`  // 描述
	Tasks        []TaskConfig       `yaml:"tasks"`        // 成员任务（depends_on指组内上游）
	Chain        []string           `yaml:"chain"`        // 按顺序串联的成员名称
	Dependencies []DependencyConfig `yaml:"dependencies"` // 组内依赖边
	DependsOn    []string           `yaml:"depends_on"`   // 分组级上游（顶层任务或分组名称）
}

// DependencyConfig 依赖边的YAML定义（对外导出）
type DependencyConfig struct {
	From string `yaml:"from"` // 上游名称
	To   string `yaml:"to"`   // 下游名称
}

// LoadPipelineFile 从YAML文件加载Pipeline定义（对外导出）
func LoadPipelineFile(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取Pipeline定义失败: %w", err)
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig 解析Pipeline的YAML定义（对外导出）
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析Pipeline定义失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验Pipeline定义（对外导出）
func (c *PipelineConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("Pipeline名称不能为空")
	}
	if len(c.Tasks) == 0 && len(c.Groups) == 0 {
		return fmt.Errorf("Pipeline %s 没有定义任何任务", c.Name)
	}
	for i := range c.Tasks {
		if err := c.Tasks[i].validate(); err != nil {
			return fmt.Errorf("Pipeline %s: %w", c.Name, err)
		}
	}
	for _, group := range c.Groups {
		if group.Name == "" {
			return fmt.Errorf("Pipeline %s 存在未命名分组", c.Name)
		}
		if len(group.Tasks) == 0 {
			return fmt.Errorf("分组 %s 没有成员任务", group.Name)
		}
		for i := range group.Tasks {
			if err := group.Tasks[i].validate(); err != nil {
				return fmt.Errorf("分组 %s: %w", group.Name, err)
			}
		}
	}
	return nil
}

// validate 校验单个任务定义（内部方法）
func (c *TaskConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("存在未命名任务")
	}
	if c.Action == "" && c.Gate == "" {
		return fmt.Errorf("任务 %s 没有指定action或gate", c.Name)
	}
	if c.Action != "" && c.Gate != "" {
		return fmt.Errorf("任务 %s 不能同时指定action和gate", c.Name)
	}
	if c.Backoff != "" && c.Backoff != task.BackoffFixed && c.Backoff != task.BackoffExponential {
		return fmt.Errorf("任务 %s 的退避策略非法: %s", c.Name, c.Backoff)
	}
	return nil
}

// ToPipeline 将YAML定义编译为Pipeline实例（对外导出）
// 动作和门禁按名称从registry解析，依赖边按名称引用
func (c *PipelineConfig) ToPipeline(registry *task.ActionRegistry) (*pipeline.Pipeline, error) {
	pb := builder.NewPipelineBuilder(c.Name, c.Description)
	if c.Schedule != "" {
		pb.WithSchedule(c.Schedule)
	}
	for key, value := range c.Params {
		pb.WithParam(key, value)
	}

	// 顶层任务
	for i := range c.Tasks {
		t, err := c.Tasks[i].build(registry)
		if err != nil {
			return nil, err
		}
		pb.AddTask(t)
		for _, upstream := range c.Tasks[i].DependsOn {
			pb.WithDependency(upstream, c.Tasks[i].Name)
		}
	}

	// 分组
	for _, groupCfg := range c.Groups {
		gb := builder.NewGroupBuilder(groupCfg.Name, groupCfg.Description)
		for i := range groupCfg.Tasks {
			t, err := groupCfg.Tasks[i].build(registry)
			if err != nil {
				return nil, fmt.Errorf("分组 %s: %w", groupCfg.Name, err)
			}
			gb.AddTask(t)
			for _, upstream := range groupCfg.Tasks[i].DependsOn {
				gb.WithDependency(upstream, groupCfg.Tasks[i].Name)
			}
		}
		if len(groupCfg.Chain) > 0 {
			gb.WithChain(groupCfg.Chain...)
		}
		for _, edge := range groupCfg.Dependencies {
			gb.WithDependency(edge.From, edge.To)
		}
		group, err := gb.Build()
		if err != nil {
			return nil, err
		}
		pb.AddGroup(group)
		for _, upstream := range groupCfg.DependsOn {
			pb.WithDependency(upstream, groupCfg.Name)
		}
	}

	// 顶层依赖边
	for _, edge := range c.Dependencies {
		pb.WithDependency(edge.From, edge.To)
	}
	return pb.Build()
}

// build 将任务定义编译为Task实例（内部方法）
func (c *TaskConfig) build(registry *task.ActionRegistry) (*task.Task, error) {
	tb := builder.NewTaskBuilder(c.Name, c.Description, registry)
	if c.Action != "" {
		tb.WithAction(c.Action)
	}
	if c.Gate != "" {
		tb.WithGate(c.Gate)
	}
	if len(c.Params) > 0 {
		tb.WithParams(c.Params)
	}
	if c.MaxAttempts > 0 {
		tb.WithMaxAttempts(c.MaxAttempts)
	}
	if c.RetryDelay > 0 {
		tb.WithRetryDelay(c.RetryDelay.Std())
	}
	if c.Backoff == task.BackoffExponential {
		tb.WithExponentialBackoff()
	}
	if c.Timeout > 0 {
		tb.WithTimeout(c.Timeout)
	}
	return tb.Build()
}
