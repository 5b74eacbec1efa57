package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/dagflow/pkg/cli/dagflow"
	"github.com/LENAX/dagflow/pkg/cli/output"
	"github.com/LENAX/dagflow/pkg/core/pipeline"
)

var triggerParams []string

// pipelineCmd pipeline子命令
var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Pipeline管理命令",
	Long:  `管理Pipeline，包括上传、列出、查看、注销、启停和触发。`,
}

// pipelineListCmd 列出Pipeline
var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有Pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		result, err := client.ListPipelines()
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无Pipeline")
			return nil
		}

		table := output.NewTable([]string{"ID", "NAME", "TASKS", "SCHEDULE", "STATUS", "ACTIVE", "CREATED"})
		for _, p := range result.Items {
			schedule := p.Schedule
			if schedule == "" {
				schedule = "-"
			}
			table.AddRow([]string{
				p.ID,
				p.Name,
				fmt.Sprintf("%d", p.TaskCount),
				schedule,
				p.Status,
				fmt.Sprintf("%d", p.ActiveRuns),
				p.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

// pipelineShowCmd 查看Pipeline详情
var pipelineShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "查看Pipeline详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		result, err := client.GetPipeline(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		fmt.Printf("Pipeline: %s\n", result.Name)
		fmt.Printf("ID:       %s\n", result.ID)
		fmt.Printf("描述:     %s\n", result.Description)
		fmt.Printf("状态:     %s\n", result.Status)
		if result.Schedule != "" {
			fmt.Printf("定时:     %s\n", result.Schedule)
		}
		fmt.Printf("任务数:   %d\n", result.TaskCount)
		if len(result.Groups) > 0 {
			fmt.Println("\nGroups:")
			for _, g := range result.Groups {
				fmt.Printf("  - %s (%d个成员)\n", g.Name, g.TaskCount)
			}
		}
		fmt.Println("\nTasks:")
		for _, t := range result.Tasks {
			kind := ""
			if t.IsGate {
				kind = " [gate]"
			}
			fmt.Printf("  - %s%s\n", t.Name, kind)
		}
		return nil
	},
}

// pipelineUploadCmd 上传Pipeline
var pipelineUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "上传Pipeline定义文件",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			output.Error("读取文件失败: %v", err)
			return err
		}

		client := dagflow.New(serverURL)
		result, err := client.UploadPipeline(string(content))
		if err != nil {
			output.Error("上传失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Success("Pipeline上传成功: %s (%s)", result.Name, result.ID)
		return nil
	},
}

// pipelineDeleteCmd 注销Pipeline
var pipelineDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "注销Pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		if err := client.DeletePipeline(args[0]); err != nil {
			output.Error("注销失败: %v", err)
			return err
		}

		output.Success("Pipeline已注销: %s", args[0])
		return nil
	},
}

// pipelineEnableCmd 启用Pipeline
var pipelineEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "启用Pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		if err := client.SetPipelineStatus(args[0], pipeline.StatusEnabled); err != nil {
			output.Error("启用失败: %v", err)
			return err
		}
		output.Success("Pipeline已启用: %s", args[0])
		return nil
	},
}

// pipelineDisableCmd 停用Pipeline
var pipelineDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "停用Pipeline（定时触发跳过）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		if err := client.SetPipelineStatus(args[0], pipeline.StatusDisabled); err != nil {
			output.Error("停用失败: %v", err)
			return err
		}
		output.Success("Pipeline已停用: %s", args[0])
		return nil
	},
}

// pipelineTriggerCmd 触发Pipeline执行
var pipelineTriggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "触发Pipeline执行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := make(map[string]interface{})
		for _, kv := range triggerParams {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				output.Error("参数格式错误: %s（应为 key=value）", kv)
				return fmt.Errorf("invalid param: %s", kv)
			}
			params[parts[0]] = parts[1]
		}

		client := dagflow.New(serverURL)
		result, err := client.TriggerRun(args[0], params)
		if err != nil {
			output.Error("触发失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Success("Run已提交执行")
		fmt.Printf("Run ID: %s\n", result.RunID)
		return nil
	},
}

// pipelineRunsCmd 查询Pipeline的Run历史
var pipelineRunsCmd = &cobra.Command{
	Use:   "runs <id>",
	Short: "查询Pipeline的Run历史",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client := dagflow.New(serverURL)
		result, err := client.ListRuns(args[0], limit)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无Run记录")
			return nil
		}

		table := output.NewTable([]string{"RUN ID", "STATE", "TRIGGERED", "STARTED", "DURATION", "FAILURE"})
		for _, run := range result.Items {
			failure := run.FailureNode
			if failure == "" {
				failure = "-"
			}
			duration := run.Duration
			if duration == "" {
				duration = "-"
			}
			table.AddRow([]string{
				run.ID,
				run.State,
				run.TriggeredBy,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				duration,
				failure,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	pipelineTriggerCmd.Flags().StringArrayVarP(&triggerParams, "param", "P", nil, "运行参数（key=value，可重复）")
	pipelineRunsCmd.Flags().Int("limit", 20, "返回条数上限")

	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineShowCmd)
	pipelineCmd.AddCommand(pipelineUploadCmd)
	pipelineCmd.AddCommand(pipelineDeleteCmd)
	pipelineCmd.AddCommand(pipelineEnableCmd)
	pipelineCmd.AddCommand(pipelineDisableCmd)
	pipelineCmd.AddCommand(pipelineTriggerCmd)
	pipelineCmd.AddCommand(pipelineRunsCmd)
}
