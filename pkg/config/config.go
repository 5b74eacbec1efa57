package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config 引擎配置（对外导出）
type Config struct {
	Mode     string         `yaml:"mode"`      // 运行模式：dev/prod
	HTTPHost string         `yaml:"http_host"` // HTTP监听地址，默认0.0.0.0
	HTTPPort int            `yaml:"http_port"` // HTTP监听端口，默认8080
	Database DatabaseConfig `yaml:"database"`  // 数据库配置
	Engine   EngineConfig   `yaml:"engine"`    // 引擎调度配置
	Alerts   AlertsConfig   `yaml:"alerts"`    // 告警配置
}

// DatabaseConfig 数据库配置（对外导出）
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // 数据库类型：sqlite/mysql/postgres
	Path     string `yaml:"path"`     // SQLite数据库文件路径
	Host     string `yaml:"host"`     // 数据库主机（mysql/postgres）
	Port     int    `yaml:"port"`     // 数据库端口
	User     string `yaml:"user"`     // 用户名
	Password string `yaml:"password"` // 密码
	DBName   string `yaml:"dbname"`   // 数据库名
}

// EngineConfig 引擎调度配置（对外导出）
type EngineConfig struct {
	MaxConcurrency     int      `yaml:"max_concurrency"`      // 最大并发执行节点数
	DefaultMaxAttempts int      `yaml:"default_max_attempts"` // 默认最大尝试次数（含首次执行）
	DefaultRetryDelay  Duration `yaml:"default_retry_delay"`  // 默认重试间隔
	RunTimeout         Duration `yaml:"run_timeout"`          // 单次Run的整体超时，0表示不限制
}

// AlertsConfig 告警配置（对外导出）
type AlertsConfig struct {
	Email EmailConfig `yaml:"email"` // 邮件告警
}

// EmailConfig 邮件告警配置（对外导出）
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`   // 是否启用
	SMTPHost string   `yaml:"smtp_host"` // SMTP服务器地址
	SMTPPort int      `yaml:"smtp_port"` // SMTP端口，465走TLS
	Username string   `yaml:"username"`  // SMTP账号
	Password string   `yaml:"password"`  // SMTP密码
	From     string   `yaml:"from"`      // 发件人
	To       []string `yaml:"to"`        // 收件人列表
}

// ApplyDefaults 应用默认值（对外导出）
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.HTTPHost == "" {
		c.HTTPHost = "0.0.0.0"
	}
	if c.HTTPPort <= 0 {
		c.HTTPPort = 8080
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "dagflow.db"
	}
	if c.Engine.MaxConcurrency <= 0 {
		c.Engine.MaxConcurrency = 10
	}
	if c.Engine.DefaultMaxAttempts <= 0 {
		c.Engine.DefaultMaxAttempts = 3
	}
	if c.Engine.DefaultRetryDelay <= 0 {
		c.Engine.DefaultRetryDelay = Duration(5 * time.Minute)
	}
}

// Validate 校验配置（对外导出）
func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "prod" {
		return fmt.Errorf("非法的运行模式: %s（应为 dev 或 prod）", c.Mode)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("非法的HTTP端口: %d", c.HTTPPort)
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite数据库需要配置path")
		}
	case "mysql", "postgres", "postgresql":
		if c.Database.Host == "" {
			return fmt.Errorf("%s数据库需要配置host", c.Database.Type)
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("%s数据库需要配置dbname", c.Database.Type)
		}
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	if c.Alerts.Email.Enabled {
		if c.Alerts.Email.SMTPHost == "" {
			return fmt.Errorf("启用邮件告警需要配置smtp_host")
		}
		if len(c.Alerts.Email.To) == 0 {
			return fmt.Errorf("启用邮件告警需要配置收件人")
		}
	}
	return nil
}

// DSN 根据数据库类型拼装连接字符串（对外导出）
func (c *DatabaseConfig) DSN() string {
	switch c.Type {
	case "mysql":
		port := c.Port
		if port <= 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, port, c.DBName)
	case "postgres", "postgresql":
		port := c.Port
		if port <= 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, port, c.User, c.Password, c.DBName)
	default:
		return c.Path
	}
}

// EmailParams 转换为邮件插件的初始化参数（对外导出）
func (c *EmailConfig) EmailParams() map[string]string {
	return map[string]string{
		"smtp_host": c.SMTPHost,
		"smtp_port": strconv.Itoa(c.SMTPPort),
		"username":  c.Username,
		"password":  c.Password,
		"from":      c.From,
		"to":        strings.Join(c.To, ","),
	}
}
