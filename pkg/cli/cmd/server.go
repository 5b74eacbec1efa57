package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/dagflow/internal/storage"
	"github.com/LENAX/dagflow/pkg/api"
	"github.com/LENAX/dagflow/pkg/config"
	"github.com/LENAX/dagflow/pkg/core/engine"
	"github.com/LENAX/dagflow/pkg/core/task"
)

var (
	serverConfigPath string
	serverHost       string
	serverPort       int
	pipelinesDir     string
)

// serverCmd server子命令
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "HTTP服务管理命令",
}

// serverStartCmd 启动HTTP API服务
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动Dagflow HTTP API服务",
	Long: `启动Dagflow引擎和HTTP API服务。

配置通过--config指定的YAML文件加载，文件不存在时使用默认配置
（sqlite存储、端口8080、最大并发10）。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serverConfigPath)
		if err != nil {
			log.Fatalf("❌ 加载配置失败: %v", err)
		}

		// 命令行参数覆盖配置文件
		if cmd.Flags().Changed("host") {
			cfg.HTTPHost = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.HTTPPort = serverPort
		}

		// 1. 创建存储
		store, err := storage.NewStore(cfg.Database.Type, cfg.Database.DSN())
		if err != nil {
			log.Fatalf("❌ 创建存储失败: %v", err)
		}
		log.Printf("✅ 存储已就绪: %s", cfg.Database.Type)

		// 2. 创建引擎
		registry := task.NewActionRegistry()
		eng, err := engine.NewEngineWithStore(cfg.Engine.MaxConcurrency, registry, store)
		if err != nil {
			log.Fatalf("❌ 创建引擎失败: %v", err)
		}

		if cfg.Alerts.Email.Enabled {
			if err := eng.EnableEmailAlerts(cfg.Alerts.Email.EmailParams()); err != nil {
				log.Fatalf("❌ 启用邮件告警失败: %v", err)
			}
		}

		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			log.Fatalf("❌ 启动引擎失败: %v", err)
		}

		// 3. 预加载Pipeline定义
		if pipelinesDir != "" {
			if err := loadPipelines(eng, registry, pipelinesDir); err != nil {
				log.Fatalf("❌ 加载Pipeline失败: %v", err)
			}
		}

		// 4. 启动API服务器
		serverConfig := api.ServerConfig{
			Host:         cfg.HTTPHost,
			Port:         cfg.HTTPPort,
			ReadTimeout:  api.DefaultServerConfig().ReadTimeout,
			WriteTimeout: api.DefaultServerConfig().WriteTimeout,
		}
		apiServer := api.NewAPIServer(eng, serverConfig, Version)

		go func() {
			if err := apiServer.Start(); err != nil {
				log.Printf("❌ API服务器错误: %v", err)
			}
		}()

		log.Printf("✅ Dagflow Server started on %s", apiServer.Addr())

		// 5. 等待中断信号
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("正在关闭服务...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("❌ 关闭API服务器失败: %v", err)
		}

		eng.Stop()
		log.Println("✅ 服务已停止")
		return nil
	},
}

// loadPipelines 从目录加载所有Pipeline定义文件（内部方法）
func loadPipelines(eng *engine.Engine, registry *task.ActionRegistry, dir string) error {
	patterns := []string{"*.yaml", "*.yml"}
	var files []string
	for _, pattern := range patterns {
		matched, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		files = append(files, matched...)
	}

	for _, file := range files {
		pc, err := config.LoadPipelineFile(file)
		if err != nil {
			return err
		}
		p, err := pc.ToPipeline(registry)
		if err != nil {
			return err
		}
		if err := eng.RegisterPipeline(p); err != nil {
			return err
		}
		log.Printf("✅ Pipeline已注册: %s (%s)", p.Name, file)
	}

	log.Printf("共加载 %d 个Pipeline", len(files))
	return nil
}

func init() {
	serverStartCmd.Flags().StringVarP(&serverConfigPath, "config", "c", "./configs/engine.yaml", "引擎配置文件路径")
	serverStartCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "监听地址")
	serverStartCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "监听端口")
	serverStartCmd.Flags().StringVar(&pipelinesDir, "pipelines", "", "Pipeline定义文件目录（可选）")

	serverCmd.AddCommand(serverStartCmd)
}
