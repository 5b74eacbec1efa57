package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "dagflow",
	Short: "Dagflow CLI - DAG编排引擎命令行工具",
	Long: `Dagflow CLI 是一个用于管理流水线编排的命令行工具。

支持的功能：
  - 管理Pipeline（上传、列出、查看、注销、启停、触发）
  - 查询Run（状态、节点明细、历史、取消）
  - 启动HTTP API服务

使用示例：
  # 列出所有Pipeline
  dagflow pipeline list

  # 触发Pipeline执行
  dagflow pipeline trigger <pipeline-id>

  # 查看Run状态
  dagflow run show <run-id>

  # 启动HTTP服务
  dagflow server start --port 8080`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Dagflow服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}
