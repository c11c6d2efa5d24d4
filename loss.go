package tft

import (
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Pinball (quantile) loss — the objective that turns one network into a
// probabilistic forecaster. For a target y, prediction ŷ at quantile q:
//
//	QL(y, ŷ, q) = q·max(y−ŷ, 0) + (1−q)·max(ŷ−y, 0)
//
// The asymmetry is the point. At q = 0.9 an under-prediction costs 9× an
// over-prediction of the same size, so the minimizer settles where only
// 10% of observations land above it: the 90th percentile. At q = 0.5 both
// sides cost the same and the loss degenerates to half the absolute error,
// whose minimizer is the median.
//
// One window's loss sums QL over every configured quantile and averages
// over the τ horizon steps. The gradient is piecewise constant: −q on the
// under-prediction side, (1−q) on the over-prediction side, zero exactly
// at the kink (the subgradient convention).
// ===========================================================================

// quantileLoss scores a τ×|Q| prediction matrix (column i holds quantile
// quantiles[i]) against the length-τ target.
func quantileLoss(pred *mat.Dense, target, quantiles []float64) float64 {
	rows, _ := pred.Dims()
	total := 0.0
	for t := 0; t < rows; t++ {
		pr := pred.RawRowView(t)
		for i, q := range quantiles {
			diff := target[t] - pr[i]
			if diff > 0 {
				total += q * diff
			} else {
				total -= (1 - q) * diff
			}
		}
	}
	return total / float64(rows)
}

// quantileLossBackward returns ∂loss/∂pred with the same shape as pred.
func quantileLossBackward(pred *mat.Dense, target, quantiles []float64) *mat.Dense {
	rows, cols := pred.Dims()
	grad := mat.NewDense(rows, cols, nil)
	inv := 1 / float64(rows)
	for t := 0; t < rows; t++ {
		pr, gr := pred.RawRowView(t), grad.RawRowView(t)
		for i, q := range quantiles {
			switch diff := target[t] - pr[i]; {
			case diff > 0:
				gr[i] = -q * inv
			case diff < 0:
				gr[i] = (1 - q) * inv
			}
		}
	}
	return grad
}

// countCrossings reports how many adjacent quantile pairs are out of order
// across all horizon steps: cells where the prediction for a higher
// quantile sits below the one for a lower quantile.
func countCrossings(pred *mat.Dense) int {
	rows, cols := pred.Dims()
	n := 0
	for t := 0; t < rows; t++ {
		pr := pred.RawRowView(t)
		for i := 1; i < cols; i++ {
			if pr[i] < pr[i-1] {
				n++
			}
		}
	}
	return n
}

// clipCrossings restores monotonicity in place with a running maximum
// along each row and returns the number of cells raised.
func clipCrossings(pred *mat.Dense) int {
	rows, cols := pred.Dims()
	n := 0
	for t := 0; t < rows; t++ {
		pr := pred.RawRowView(t)
		for i := 1; i < cols; i++ {
			if pr[i] < pr[i-1] {
				pr[i] = pr[i-1]
				n++
			}
		}
	}
	return n
}
