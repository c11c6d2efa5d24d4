package tft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// requireSelectionWeights asserts the defining property of variable
// selection: every position's weights form a probability distribution.
func requireSelectionWeights(t *testing.T, weights *mat.Dense) {
	t.Helper()
	rows, cols := weights.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			w := weights.At(i, j)
			require.GreaterOrEqual(t, w, 0.0, "negative selection weight at (%d,%d)", i, j)
			sum += w
		}
		require.InDelta(t, 1.0, sum, 1e-9, "selection weights at position %d do not sum to 1", i)
	}
}

func TestVSNWeightsAreDistribution(t *testing.T) {
	v := newVSN(newInitializer(1), "vsn", 3, 4, 0, 0)
	inputs := []*mat.Dense{
		randDense(5, 4, 60),
		randDense(5, 4, 61),
		randDense(5, 4, 62),
	}

	out, weights, _ := v.ForwardWithCache(inputs, nil, nil)

	r, c := out.Dims()
	require.Equal(t, 5, r)
	require.Equal(t, 4, c)

	wr, wc := weights.Dims()
	require.Equal(t, 5, wr)
	require.Equal(t, 3, wc)
	requireSelectionWeights(t, weights)
}

func TestVSNSingleVariable(t *testing.T) {
	// One variable gets weight 1 everywhere: softmax over a single logit.
	v := newVSN(newInitializer(2), "vsn", 1, 4, 0, 0)
	_, weights, _ := v.ForwardWithCache([]*mat.Dense{randDense(3, 4, 63)}, nil, nil)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, weights.At(i, 0))
	}
}

func TestVSNArityMismatch(t *testing.T) {
	v := newVSN(newInitializer(3), "vsn", 2, 4, 0, 0)
	require.Panics(t, func() {
		v.ForwardWithCache([]*mat.Dense{randDense(1, 4, 64)}, nil, nil)
	})
}

func TestVSNBackward(t *testing.T) {
	v := newVSN(newInitializer(4), "vsn", 3, 4, 4, 0)
	inputs := []*mat.Dense{
		randDense(2, 4, 65),
		randDense(2, 4, 66),
		randDense(2, 4, 67),
	}
	c := randDense(1, 4, 68)
	upstream := randDense(2, 4, 69)

	loss := func() float64 {
		out, _, _ := v.ForwardWithCache(inputs, c, nil)
		return weightedSum(out, upstream)
	}

	zeroGrads(v.params())
	_, _, cache := v.ForwardWithCache(inputs, c, nil)
	gradInputs, gradC := v.Backward(cache, upstream)
	require.Len(t, gradInputs, 3)
	require.NotNil(t, gradC)

	for vi, x := range inputs {
		for i := 0; i < 2; i++ {
			for j := 0; j < 4; j++ {
				requireGradClose(t, numericalGrad(loss, x, i, j), gradInputs[vi].At(i, j), "vsn input")
			}
		}
	}
	for j := 0; j < 4; j++ {
		requireGradClose(t, numericalGrad(loss, c, 0, j), gradC.At(0, j), "vsn context")
	}
	checkParamGrads(t, v.params(), loss)
}

func TestVSNContextShiftsWeights(t *testing.T) {
	// The static context conditions the selection logits: different context
	// rows must be able to produce different weightings of the same inputs.
	v := newVSN(newInitializer(5), "vsn", 2, 4, 4, 0)
	inputs := []*mat.Dense{randDense(3, 4, 70), randDense(3, 4, 71)}

	_, w1, _ := v.ForwardWithCache(inputs, randDense(1, 4, 72), nil)
	_, w2, _ := v.ForwardWithCache(inputs, randDense(1, 4, 73), nil)

	requireSelectionWeights(t, w1)
	requireSelectionWeights(t, w2)
	assert.False(t, mat.Equal(w1, w2), "distinct contexts should move the selection weights")
}
