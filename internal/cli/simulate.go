package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"fx-risk-alerts/internal/app"
)

var (
	simulateCurrency   string
	simulateVolatility float64
	simulateMeanVol    float64
	simulateVaRPct     float64
	simulateRegime     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次波动率突破并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateVolatility <= 0 || simulateMeanVol <= 0 {
			return errors.New("--volatility 与 --mean 必须大于 0")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Currency:   simulateCurrency,
			Volatility: simulateVolatility,
			MeanVol:    simulateMeanVol,
			VaRPct:     simulateVaRPct,
			Regime:     simulateRegime,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCurrency, "currency", "EUR", "货币对基准货币")
	simulateCmd.Flags().Float64Var(&simulateVolatility, "volatility", 0, "当前波动率")
	simulateCmd.Flags().Float64Var(&simulateMeanVol, "mean", 0, "历史平均波动率")
	simulateCmd.Flags().Float64Var(&simulateVaRPct, "var", 0, "当前 VaR 百分比")
	simulateCmd.Flags().StringVar(&simulateRegime, "regime", "calm", "市场状态 (calm/elevated/crisis)")
}
