package tft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestQuantileLossPinnedValues(t *testing.T) {
	// Single step, single quantile: the loss reduces to the textbook pinball
	// formula and these values can be checked by hand.
	tests := []struct {
		name   string
		actual float64
		pred   float64
		q      float64
		want   float64
	}{
		{"under-prediction at q=0.9", 10, 8, 0.9, 1.8},
		{"over-prediction at q=0.9", 10, 12, 0.9, 0.2},
		{"exact at q=0.1", 10, 10, 0.1, 0},
		{"exact at q=0.5", 10, 10, 0.5, 0},
		{"exact at q=0.9", 10, 10, 0.9, 0},
		{"median is half absolute error", 10, 6, 0.5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := mat.NewDense(1, 1, []float64{tt.pred})
			got := quantileLoss(pred, []float64{tt.actual}, []float64{tt.q})
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestQuantileLossAsymmetry(t *testing.T) {
	// At q=0.9 missing low must cost 9× missing high by the same amount.
	target := []float64{10}
	low := quantileLoss(mat.NewDense(1, 1, []float64{9}), target, []float64{0.9})
	high := quantileLoss(mat.NewDense(1, 1, []float64{11}), target, []float64{0.9})
	assert.InDelta(t, 9.0, low/high, 1e-9)
}

func TestQuantileLossAveragesOverHorizon(t *testing.T) {
	// Two steps with identical errors score the same as one step.
	one := quantileLoss(mat.NewDense(1, 1, []float64{8}), []float64{10}, []float64{0.9})
	two := quantileLoss(mat.NewDense(2, 1, []float64{8, 8}), []float64{10, 10}, []float64{0.9})
	assert.InDelta(t, one, two, 1e-12)
}

func TestQuantileLossSumsOverQuantiles(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	pred := mat.NewDense(1, 3, []float64{8, 9, 12})
	target := []float64{10}

	want := 0.0
	for i, q := range quantiles {
		want += quantileLoss(mat.NewDense(1, 1, []float64{pred.At(0, i)}), target, []float64{q})
	}
	assert.InDelta(t, want, quantileLoss(pred, target, quantiles), 1e-12)
}

func TestQuantileLossNonNegative(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	for seed := uint64(0); seed < 20; seed++ {
		pred := randDense(4, 3, 130+seed)
		target := randDense(1, 4, 160+seed)
		loss := quantileLoss(pred, target.RawRowView(0), quantiles)
		require.GreaterOrEqual(t, loss, 0.0, "seed %d", seed)
	}
}

func TestQuantileLossZeroOnlyWhenExact(t *testing.T) {
	quantiles := []float64{0.1, 0.9}
	pred := mat.NewDense(2, 2, []float64{3, 3, -1, -1})
	target := []float64{3, -1}
	assert.Zero(t, quantileLoss(pred, target, quantiles))

	pred.Set(0, 1, 3.01)
	assert.Greater(t, quantileLoss(pred, target, quantiles), 0.0)
}

func TestQuantileLossBackward(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	// keep predictions away from the targets so no probe step crosses the
	// kink where the subgradient and the finite difference disagree
	pred := mat.NewDense(3, 3, []float64{
		1.0, 2.0, 3.0,
		-2.0, 0.5, 4.0,
		7.0, 8.0, 9.0,
	})
	target := []float64{5, 5, 5}

	grad := quantileLossBackward(pred, target, quantiles)
	loss := func() float64 { return quantileLoss(pred, target, quantiles) }

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			requireGradClose(t, numericalGrad(loss, pred, i, j), grad.At(i, j), "pinball")
		}
	}
}

func TestQuantileLossBackwardSigns(t *testing.T) {
	// Under-predicting pushes the gradient negative (raise the prediction),
	// over-predicting positive, scaled by q and 1−q respectively.
	pred := mat.NewDense(1, 2, []float64{8, 12})
	grad := quantileLossBackward(pred, []float64{10}, []float64{0.9, 0.9})
	assert.InDelta(t, -0.9, grad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.1, grad.At(0, 1), 1e-12)
}

func TestCountCrossings(t *testing.T) {
	tests := []struct {
		name string
		rows []float64
		want int
	}{
		{"monotone", []float64{1, 2, 3, 4, 5, 6}, 0},
		{"flat rows allowed", []float64{2, 2, 2, 5, 5, 5}, 0},
		{"one crossing", []float64{1, 3, 2, 4, 5, 6}, 1},
		{"cascade counts per cell", []float64{5, 1, 2, 9, 8, 7}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := mat.NewDense(2, 3, tt.rows)
			assert.Equal(t, tt.want, countCrossings(pred))
		})
	}
}

func TestClipCrossings(t *testing.T) {
	pred := mat.NewDense(2, 3, []float64{
		5, 1, 2,
		1, 2, 3,
	})
	raised := clipCrossings(pred)

	require.Equal(t, 2, raised)
	assert.Equal(t, []float64{5, 5, 5}, pred.RawRowView(0), "running max pulls trailing cells up")
	assert.Equal(t, []float64{1, 2, 3}, pred.RawRowView(1), "monotone rows untouched")
	assert.Zero(t, countCrossings(pred))
}
