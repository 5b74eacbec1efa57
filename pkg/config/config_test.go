package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// 文件不存在时返回默认配置
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "dagflow.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 3, cfg.Engine.DefaultMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Engine.DefaultRetryDelay.Std())
	assert.Equal(t, time.Duration(0), cfg.Engine.RunTimeout.Std())
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTempFile(t, `
mode: prod
http_port: 9090
database:
  type: mysql
  host: db.internal
  port: 3307
  user: dagflow
  password: secret
  dbname: dagflow
engine:
  max_concurrency: 4
  default_max_attempts: 2
  default_retry_delay: 30s
  run_timeout: 2h
alerts:
  email:
    enabled: true
    smtp_host: smtp.example.com
    smtp_port: 465
    from: dagflow@example.com
    to:
      - oncall@example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Mode)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultRetryDelay.Std())
	assert.Equal(t, 2*time.Hour, cfg.Engine.RunTimeout.Std())
	assert.True(t, cfg.Alerts.Email.Enabled)

	assert.Equal(t, "dagflow:secret@tcp(db.internal:3307)/dagflow?parseTime=true", cfg.Database.DSN())

	params := cfg.Alerts.Email.EmailParams()
	assert.Equal(t, "smtp.example.com", params["smtp_host"])
	assert.Equal(t, "465", params["smtp_port"])
	assert.Equal(t, "oncall@example.com", params["to"])
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "mode: [broken")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "默认配置合法", mutate: func(c *Config) {}},
		{name: "非法模式", mutate: func(c *Config) { c.Mode = "staging" }, wantErr: true},
		{name: "非法端口", mutate: func(c *Config) { c.HTTPPort = 70000 }, wantErr: true},
		{name: "未知数据库类型", mutate: func(c *Config) { c.Database.Type = "oracle" }, wantErr: true},
		{
			name: "mysql缺少host",
			mutate: func(c *Config) {
				c.Database.Type = "mysql"
				c.Database.DBName = "dagflow"
			},
			wantErr: true,
		},
		{
			name: "邮件告警缺少收件人",
			mutate: func(c *Config) {
				c.Alerts.Email.Enabled = true
				c.Alerts.Email.SMTPHost = "smtp.example.com"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	sqliteCfg := DatabaseConfig{Type: "sqlite", Path: "data/dagflow.db"}
	assert.Equal(t, "data/dagflow.db", sqliteCfg.DSN())

	pgCfg := DatabaseConfig{Type: "postgres", Host: "localhost", User: "u", Password: "p", DBName: "dagflow"}
	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=dagflow sslmode=disable", pgCfg.DSN())
}
