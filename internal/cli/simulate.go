package cli

import (
	"github.com/spf13/cobra"

	"crypto-arb-scanner/internal/app"
)

var (
	simulateCycles  int
	simulateSeed    uint64
	simulateNotify  bool
	simulateExecute bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "在合成行情上离线运行若干扫描周期",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Cycles:  simulateCycles,
			Seed:    simulateSeed,
			Notify:  simulateNotify,
			Execute: simulateExecute,
		})
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCycles, "cycles", 10, "模拟周期数")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 1, "合成行情随机种子")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "结束后通过已配置通道发送一条测试告警")
	simulateCmd.Flags().BoolVar(&simulateExecute, "execute", false, "每个周期将利润最高的机会标记为已执行")
}
