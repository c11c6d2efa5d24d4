package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/scttfrdmn/tft"
)

// ForecastCmd forecasts the tail of a series from a trained checkpoint.
var ForecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast the tail of a series from a checkpoint",
	Long: `Load a checkpoint and forecast the steps after the last recorded
target value.

The CSV must contain the model's past window (the final input_chunk_length
target values) and, for every known covariate, output_chunk_length future
rows past the end of the target. Future rows leave the target cell empty.

Static variable values are not columns; pass them with --static:

  tft forecast -m m.tft -d load.csv --static region=3`,
	RunE: runForecast,
}

var (
	forecastModelPath string
	forecastDataPath  string
	forecastTargetCol string
	forecastStatics   map[string]string
	forecastJSONOut   bool
	forecastClip      bool
)

func init() {
	ForecastCmd.Flags().StringVarP(&forecastModelPath, "model", "m", "", "Checkpoint to load (required)")
	ForecastCmd.Flags().StringVarP(&forecastDataPath, "data", "d", "", "CSV series file (required)")
	ForecastCmd.Flags().StringVar(&forecastTargetCol, "target-column", tft.TargetName, "Name of the target column")
	ForecastCmd.Flags().StringToStringVar(&forecastStatics, "static", nil, "Static variable values as name=value pairs")
	ForecastCmd.Flags().BoolVar(&forecastJSONOut, "json", false, "Emit the forecast as JSON")
	ForecastCmd.Flags().BoolVar(&forecastClip, "clip", false, "Rearrange crossed quantiles into non-decreasing order")
	_ = ForecastCmd.MarkFlagRequired("model")
	_ = ForecastCmd.MarkFlagRequired("data")
}

func runForecast(cmd *cobra.Command, args []string) error {
	model, err := tft.LoadModel(forecastModelPath)
	if err != nil {
		return err
	}
	cfg := model.Config()

	series, err := tft.ReadSeriesCSV(forecastDataPath, forecastTargetCol, model.Features())
	if err != nil {
		return err
	}
	if series.Static, err = parseStatics(forecastStatics); err != nil {
		return err
	}
	if sc := model.Scaler(); sc != nil {
		sc.Apply(series)
	}

	w, err := series.TailWindow(cfg.InputChunkLength, cfg.OutputChunkLength)
	if err != nil {
		return err
	}
	f, err := model.Forecast(w)
	if err != nil {
		return err
	}
	if sc := model.Scaler(); sc != nil {
		sc.InverseTarget(f)
	}

	crossings := f.CrossingCount()
	if crossings > 0 {
		log.Warn("forecast has quantile crossings",
			zap.Int("crossings", crossings),
			zap.Bool("clipped", forecastClip))
	}
	if forecastClip {
		f.ClipCrossings()
	}

	if forecastJSONOut {
		return printForecastJSON(f, crossings, forecastClip)
	}
	printForecastTable(f)
	return nil
}

func parseStatics(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for name, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Newf("static %s=%s is not a number", name, s)
		}
		out[name] = v
	}
	return out, nil
}

func printForecastTable(f *tft.Forecast) {
	fmt.Printf("%-6s", "step")
	for _, q := range f.Quantiles {
		fmt.Printf("  %12s", quantileName(q))
	}
	fmt.Println()
	for t := 0; t < f.Horizon(); t++ {
		fmt.Printf("%-6d", t+1)
		for i := range f.Quantiles {
			fmt.Printf("  %12.4f", f.Values.At(t, i))
		}
		fmt.Println()
	}
}

func printForecastJSON(f *tft.Forecast, crossings int, clipped bool) error {
	out := struct {
		Quantiles []float64   `json:"quantiles"`
		Values    [][]float64 `json:"values"` // values[step][quantile]
		Crossings int         `json:"crossings"`
		Clipped   bool        `json:"clipped"`
	}{
		Quantiles: f.Quantiles,
		Values:    make([][]float64, f.Horizon()),
		Crossings: crossings,
		Clipped:   clipped,
	}
	for t := range out.Values {
		out.Values[t] = mat.Row(nil, t, f.Values)
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

// quantileName renders 0.1 as p10, 0.025 as p2.5.
func quantileName(q float64) string {
	return fmt.Sprintf("p%g", q*100)
}
