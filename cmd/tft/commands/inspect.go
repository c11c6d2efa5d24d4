package commands

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/scttfrdmn/tft"
)

// InspectCmd shows what a checkpoint contains and, given data, which
// inputs the model actually uses.
var InspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show a checkpoint's configuration and variable importances",
	Long: `Print a checkpoint's configuration, feature schema and parameter
shapes. With --data or --synthetic, run the model over recent windows and
report the interpretability outputs: mean variable selection weight per
input, and mean attention weight by lag.

Selection weights say which variables the model consults; attention lags
say how far back it looks. On a clean daily series the dominant attention
lag lands on the period.`,
	RunE: runInspect,
}

var (
	inspectModelPath string
	inspectDataPath  string
	inspectTargetCol string
	inspectSynthetic bool
	inspectParams    bool
	inspectWindows   int
)

func init() {
	InspectCmd.Flags().StringVarP(&inspectModelPath, "model", "m", "", "Checkpoint to load (required)")
	InspectCmd.Flags().StringVarP(&inspectDataPath, "data", "d", "", "CSV series file to measure importances on")
	InspectCmd.Flags().StringVar(&inspectTargetCol, "target-column", tft.TargetName, "Name of the target column")
	InspectCmd.Flags().BoolVar(&inspectSynthetic, "synthetic", false, "Measure importances on the built-in sine demo")
	InspectCmd.Flags().BoolVar(&inspectParams, "params", false, "List every parameter matrix")
	InspectCmd.Flags().IntVar(&inspectWindows, "windows", 64, "Maximum number of windows to average over")
	_ = InspectCmd.MarkFlagRequired("model")
}

func runInspect(cmd *cobra.Command, args []string) error {
	model, err := tft.LoadModel(inspectModelPath)
	if err != nil {
		return err
	}
	cfg, fs := model.Config(), model.Features()

	fmt.Printf("checkpoint: %s\n", inspectModelPath)
	fmt.Printf("  %s\n", cfg)
	fmt.Printf("  parameters: %d values in %d matrices\n", model.NumParameters(), len(model.Parameters()))
	if sc := model.Scaler(); sc != nil {
		fmt.Printf("  normalization: %s\n", sc.Method)
	}
	printSchema(fs)

	if inspectParams {
		fmt.Println("\nParameters:")
		for _, p := range model.Parameters() {
			r, c := p.W.Dims()
			fmt.Printf("  %-28s %4d x %-4d\n", p.Name, r, c)
		}
	}

	if !inspectSynthetic && inspectDataPath == "" {
		return nil
	}

	windows, err := inspectionWindows(model)
	if err != nil {
		return err
	}
	forecasts, err := model.Predict(cmd.Context(), windows)
	if err != nil {
		return err
	}

	fmt.Printf("\nVariable importances (mean selection weight over %d windows):\n", len(windows))
	printImportances("past", fs.PastNames(), weightMatrices(forecasts, func(f *tft.Forecast) *mat.Dense { return f.PastWeights }))
	printImportances("future", fs.FutureNames(), weightMatrices(forecasts, func(f *tft.Forecast) *mat.Dense { return f.FutureWeights }))
	printImportances("static", fs.StaticNames(), weightMatrices(forecasts, func(f *tft.Forecast) *mat.Dense { return f.StaticWeights }))

	printAttentionLags(forecasts, cfg.InputChunkLength)
	return nil
}

// inspectionWindows returns the most recent windows, capped at the
// --windows flag.
func inspectionWindows(model *tft.Model) ([]*tft.TimeWindow, error) {
	cfg := model.Config()
	var windows []*tft.TimeWindow
	if inspectSynthetic {
		windows, _ = demoWindows(cfg, cfg.Seed)
	} else {
		series, err := tft.ReadSeriesCSV(inspectDataPath, inspectTargetCol, model.Features())
		if err != nil {
			return nil, err
		}
		if sc := model.Scaler(); sc != nil {
			sc.Apply(series)
		}
		windows = series.Windows(cfg.InputChunkLength, cfg.OutputChunkLength, 1)
	}
	if len(windows) == 0 {
		return nil, errors.Newf("series too short: no full %d past + %d future step windows",
			cfg.InputChunkLength, cfg.OutputChunkLength)
	}
	if inspectWindows > 0 && len(windows) > inspectWindows {
		windows = windows[len(windows)-inspectWindows:]
	}
	return windows, nil
}

func printSchema(fs tft.FeatureSet) {
	describe := func(role string, specs []tft.VariableSpec) {
		if len(specs) == 0 {
			return
		}
		fmt.Printf("  %s:", role)
		for _, v := range specs {
			if v.Kind == tft.Categorical {
				fmt.Printf(" %s(categorical:%d)", v.Name, v.Cardinality)
			} else {
				fmt.Printf(" %s", v.Name)
			}
		}
		fmt.Println()
	}
	describe("static", fs.Static)
	describe("observed", fs.Observed)
	describe("known", fs.Known)
}

func weightMatrices(forecasts []*tft.Forecast, pick func(*tft.Forecast) *mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, 0, len(forecasts))
	for _, f := range forecasts {
		if m := pick(f); m != nil {
			out = append(out, m)
		}
	}
	return out
}

func printImportances(role string, names []string, weights []*mat.Dense) {
	if len(names) == 0 {
		fmt.Printf("  %s: (none)\n", role)
		return
	}
	means := meanColumns(weights)
	fmt.Printf("  %s:\n", role)
	for i, name := range names {
		fmt.Printf("    %-20s %.3f\n", name, means[i])
	}
}

// meanColumns averages each column across all rows of all matrices.
func meanColumns(ms []*mat.Dense) []float64 {
	if len(ms) == 0 {
		return nil
	}
	_, cols := ms[0].Dims()
	out := make([]float64, cols)
	n := 0.0
	for _, m := range ms {
		rows, _ := m.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[j] += m.At(i, j)
			}
		}
		n += float64(rows)
	}
	for j := range out {
		out[j] /= n
	}
	return out
}

// printAttentionLags reports where decoder positions put their attention
// mass, averaged over heads, decode rows and windows, keyed by lag (query
// step minus attended step).
func printAttentionLags(forecasts []*tft.Forecast, k int) {
	if len(forecasts) == 0 || len(forecasts[0].Attention) == 0 {
		return
	}
	seq, _ := forecasts[0].Attention[0].Dims()
	sum := make([]float64, seq)
	count := make([]float64, seq)
	for _, f := range forecasts {
		for _, head := range f.Attention {
			for i := k; i < seq; i++ {
				for j := 0; j <= i; j++ {
					lag := i - j
					sum[lag] += head.At(i, j)
					count[lag]++
				}
			}
		}
	}
	type lagWeight struct {
		lag int
		w   float64
	}
	lags := make([]lagWeight, 0, seq)
	for l := range sum {
		if count[l] > 0 {
			lags = append(lags, lagWeight{l, sum[l] / count[l]})
		}
	}
	sort.Slice(lags, func(a, b int) bool { return lags[a].w > lags[b].w })
	if len(lags) > 5 {
		lags = lags[:5]
	}

	fmt.Println("\nAttention (mean weight by lag, top 5):")
	for _, lw := range lags {
		fmt.Printf("  lag %-4d %.4f\n", lw.lag, lw.w)
	}
}
