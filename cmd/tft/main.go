package main

import (
	"fmt"
	"os"

	"github.com/scttfrdmn/tft/cmd/tft/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tft",
	Short: "Temporal Fusion Transformer quantile forecasting",
	Long: `tft trains a Temporal Fusion Transformer on a univariate time series
with optional covariates and produces multi-horizon quantile forecasts.

Available commands:
  train     Train a model and write a checkpoint
  forecast  Forecast the tail of a series from a checkpoint
  inspect   Show a checkpoint's configuration and variable importances
  version   Show build information

Examples:
  tft train --synthetic -o sine.tft            # train on the built-in sine demo
  tft train -c run.toml -d series.csv -o m.tft # train a TOML-described run
  tft forecast -m m.tft -d series.csv          # forecast the series tail
  tft inspect -m m.tft --synthetic             # variable importances`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		return commands.InitLogger(jsonLogs, verbosity)
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (repeat for more detail)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.TrainCmd)
	rootCmd.AddCommand(commands.ForecastCmd)
	rootCmd.AddCommand(commands.InspectCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
