package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/dagflow/pkg/cli/dagflow"
	"github.com/LENAX/dagflow/pkg/cli/output"
)

var cancelReason string

// runCmd run子命令
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run查询命令",
	Long:  `查询Run的执行状态、节点明细和进度，或取消运行中的Run。`,
}

// runShowCmd 查看Run详情
var runShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "查看Run详情（含节点明细）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		result, err := client.GetRun(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		fmt.Printf("Run:      %s\n", result.ID)
		fmt.Printf("Pipeline: %s (%s)\n", result.PipelineName, result.PipelineID)
		fmt.Printf("状态:     ")
		output.StateColor(result.State).Printf("%s\n", result.State)
		fmt.Printf("触发方式: %s\n", result.TriggeredBy)
		fmt.Printf("开始时间: %s\n", result.StartedAt.Format("2006-01-02 15:04:05"))
		if result.FinishedAt != nil {
			fmt.Printf("结束时间: %s\n", result.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		if result.Duration != "" {
			fmt.Printf("耗时:     %s\n", result.Duration)
		}
		if result.FailureNode != "" {
			output.Error("失败节点: %s（%s）", result.FailureNode, result.FailureReason)
		}

		p := result.Progress
		fmt.Printf("\n进度: %d/%d 成功, %d 失败, %d 跳过, %d 运行中\n",
			p.Succeeded, p.Total, p.Failed, p.Skipped, p.Running)

		if len(result.Groups) > 0 {
			fmt.Println("\nGroups:")
			for _, g := range result.Groups {
				fmt.Printf("  - %s: ", g.GroupName)
				output.StateColor(g.State).Printf("%s\n", g.State)
			}
		}

		fmt.Println("\nNodes:")
		table := output.NewTable([]string{"NODE", "STATE", "ATTEMPTS", "GATE", "DURATION", "REASON"})
		for _, n := range result.Nodes {
			gate := "-"
			if n.GatePassed != nil {
				if *n.GatePassed {
					gate = "pass"
				} else {
					gate = "fail"
				}
			}
			duration := n.Duration
			if duration == "" {
				duration = "-"
			}
			reason := n.Reason
			if reason == "" {
				reason = "-"
			}
			table.AddRow([]string{
				n.NodeName,
				n.State,
				fmt.Sprintf("%d", n.Attempts),
				gate,
				duration,
				reason,
			})
		}
		table.Render()
		return nil
	},
}

// runProgressCmd 查看Run进度快照
var runProgressCmd = &cobra.Command{
	Use:   "progress <run-id>",
	Short: "查看Run进度快照",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		result, err := client.GetProgress(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		fmt.Printf("总计:   %d\n", result.Total)
		fmt.Printf("成功:   %d\n", result.Succeeded)
		fmt.Printf("失败:   %d\n", result.Failed)
		fmt.Printf("跳过:   %d\n", result.Skipped)
		fmt.Printf("运行中: %d\n", result.Running)
		fmt.Printf("重试中: %d\n", result.Retrying)
		fmt.Printf("等待:   %d\n", result.Pending)
		if len(result.RunningNodeIDs) > 0 {
			fmt.Println("\n运行中的节点:")
			for _, id := range result.RunningNodeIDs {
				fmt.Printf("  - %s\n", id)
			}
		}
		return nil
	},
}

// runCancelCmd 取消Run
var runCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "取消运行中的Run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := dagflow.New(serverURL)
		if err := client.CancelRun(args[0], cancelReason); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}

		output.Success("Run已取消: %s", args[0])
		return nil
	},
}

func init() {
	runCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "取消原因")

	runCmd.AddCommand(runShowCmd)
	runCmd.AddCommand(runProgressCmd)
	runCmd.AddCommand(runCancelCmd)
}
