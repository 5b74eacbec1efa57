package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支持"5m"/"30s"写法的时长配置（对外导出）
type Duration time.Duration

// Std 转换为标准time.Duration（对外导出）
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML 解析YAML时长字段（实现yaml.Unmarshaler）
// 支持字符串时长（"5m"）和整数秒两种写法
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("非法的时长 %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("非法的时长配置: %s", value.Value)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// MarshalYAML 序列化为字符串时长（实现yaml.Marshaler）
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
