package tft

import (
	"gonum.org/v1/gonum/mat"
)

// Forecast is one window's prediction: a value for every (horizon step,
// quantile) pair, plus the interpretability outputs the model produces as
// a side effect of computing it — variable selection weights and attention
// patterns.
//
// Monotonicity across quantiles (ŷ(q₁) ≤ ŷ(q₂) for q₁ < q₂) is not
// guaranteed by the architecture. CrossingCount reports violations;
// ClipCrossings repairs them.
type Forecast struct {
	// Quantiles are the configured levels, ascending. Values.At(t, i) is
	// the prediction for Quantiles[i] at horizon step t (0-based: step 0
	// is the first step after the encode window).
	Quantiles []float64
	Values    *mat.Dense

	// StaticWeights is 1×(number of static variables), nil when the
	// feature set has none. PastWeights is k×(past variables) and
	// FutureWeights is τ×(known variables): selection weight per
	// position per variable, each row summing to 1.
	StaticWeights *mat.Dense
	PastWeights   *mat.Dense
	FutureWeights *mat.Dense

	// Attention holds one (k+τ)×(k+τ) weight matrix per head.
	Attention []*mat.Dense
}

// Horizon returns τ, the number of forecast steps.
func (f *Forecast) Horizon() int {
	r, _ := f.Values.Dims()
	return r
}

// Value returns the prediction at the given step for quantile level q.
// The bool is false when q is not one of the configured levels.
func (f *Forecast) Value(step int, q float64) (float64, bool) {
	for i, level := range f.Quantiles {
		if level == q {
			return f.Values.At(step, i), true
		}
	}
	return 0, false
}

// Series returns the full horizon for quantile level q as a slice.
func (f *Forecast) Series(q float64) ([]float64, bool) {
	col := -1
	for i, level := range f.Quantiles {
		if level == q {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, false
	}
	out := make([]float64, f.Horizon())
	for t := range out {
		out[t] = f.Values.At(t, col)
	}
	return out, true
}

// CrossingCount reports how many adjacent quantile pairs are out of order.
func (f *Forecast) CrossingCount() int {
	return countCrossings(f.Values)
}

// ClipCrossings enforces monotonicity in place with a running maximum per
// step and returns the number of values raised.
func (f *Forecast) ClipCrossings() int {
	return clipCrossings(f.Values)
}

// PinballLoss scores the forecast against the realized values, averaged
// over the horizon and summed over quantiles. Panics if len(actual)
// differs from the horizon.
func (f *Forecast) PinballLoss(actual []float64) float64 {
	if len(actual) != f.Horizon() {
		panic("tft: actual length does not match forecast horizon")
	}
	return quantileLoss(f.Values, actual, f.Quantiles)
}
