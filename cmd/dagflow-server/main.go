package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LENAX/dagflow/internal/storage"
	"github.com/LENAX/dagflow/pkg/api"
	"github.com/LENAX/dagflow/pkg/config"
	"github.com/LENAX/dagflow/pkg/core/engine"
	"github.com/LENAX/dagflow/pkg/core/task"
)

var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/engine.yaml", "引擎配置文件路径")
	host := flag.String("host", "", "监听地址（覆盖配置文件）")
	port := flag.Int("port", 0, "监听端口（覆盖配置文件）")
	flag.Parse()

	log.Printf("Dagflow Server v%s", Version)
	log.Printf("配置文件: %s", *configPath)

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *host != "" {
		cfg.HTTPHost = *host
	}
	if *port > 0 {
		cfg.HTTPPort = *port
	}

	// 2. 创建存储与引擎
	store, err := storage.NewStore(cfg.Database.Type, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("创建存储失败: %v", err)
	}

	registry := task.NewActionRegistry()
	eng, err := engine.NewEngineWithStore(cfg.Engine.MaxConcurrency, registry, store)
	if err != nil {
		log.Fatalf("创建引擎失败: %v", err)
	}

	if cfg.Alerts.Email.Enabled {
		if err := eng.EnableEmailAlerts(cfg.Alerts.Email.EmailParams()); err != nil {
			log.Fatalf("启用邮件告警失败: %v", err)
		}
	}

	// 3. 启动引擎
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("启动引擎失败: %v", err)
	}

	// 4. 创建API服务器
	serverConfig := api.ServerConfig{
		Host:         cfg.HTTPHost,
		Port:         cfg.HTTPPort,
		ReadTimeout:  api.DefaultServerConfig().ReadTimeout,
		WriteTimeout: api.DefaultServerConfig().WriteTimeout,
	}

	apiServer := api.NewAPIServer(eng, serverConfig, Version)

	// 5. 在goroutine中启动API服务器
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("API服务器错误: %v", err)
		}
	}()

	log.Printf("✅ Dagflow Server started on %s", apiServer.Addr())

	// 6. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 7. 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultServerConfig().WriteTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭API服务器失败: %v", err)
	}

	eng.Stop()
	log.Println("✅ 服务已停止")
}
