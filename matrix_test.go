package tft

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ---------------------------------------------------------------------------
// Shared test helpers.
//
// Every block in this package carries a hand-written backward pass, so the
// load-bearing check everywhere is the same: compare the analytic gradient
// against a central finite difference of the forward pass. The helpers below
// implement that comparison once.
// ---------------------------------------------------------------------------

// randDense fills an r×c matrix with reproducible values in [-1, 1).
func randDense(r, c int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return mat.NewDense(r, c, data)
}

// numericalGrad approximates d f / d x[i,j] with a central difference,
// restoring the entry afterwards.
func numericalGrad(f func() float64, x *mat.Dense, i, j int) float64 {
	const h = 1e-6
	orig := x.At(i, j)
	x.Set(i, j, orig+h)
	up := f()
	x.Set(i, j, orig-h)
	down := f()
	x.Set(i, j, orig)
	return (up - down) / (2 * h)
}

// requireGradClose fails when the analytic and numerical gradients disagree
// beyond finite-difference noise. Correct backward passes land within ~1e-9
// here; a wrong formula is off by orders of magnitude.
func requireGradClose(t *testing.T, want, got float64, name string) {
	t.Helper()
	tol := 1e-5 + 1e-4*math.Abs(want)
	require.InDeltaf(t, want, got, tol, "gradient mismatch at %s: numerical %g, analytic %g", name, want, got)
}

// checkParamGrads compares the accumulated gradient of every parameter
// against finite differences of loss(). Gradients must already be
// accumulated by the caller's backward pass; loss() must rerun the forward
// pass from scratch. Only the first few entries per parameter are probed to
// keep the test fast; they cover every weight matrix's wiring.
func checkParamGrads(t *testing.T, params []*Param, loss func() float64) {
	t.Helper()
	for _, p := range params {
		r, c := p.W.Dims()
		probes := min(3, r*c)
		for n := 0; n < probes; n++ {
			i, j := n/c, n%c
			num := numericalGrad(loss, p.W, i, j)
			requireGradClose(t, num, p.Grad.At(i, j), p.Name)
		}
	}
}

// zeroGrads clears accumulated gradients before an analytic backward pass.
func zeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// weightedSum reduces a matrix to a scalar with fixed weights, giving the
// gradient checks a scalar loss whose gradient with respect to the matrix
// is exactly the weight matrix.
func weightedSum(x, weights *mat.Dense) float64 {
	r, _ := x.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		xr, wr := x.RawRowView(i), weights.RawRowView(i)
		for j := range xr {
			total += xr[j] * wr[j]
		}
	}
	return total
}

// ---------------------------------------------------------------------------
// Primitive ops.
// ---------------------------------------------------------------------------

func TestMatMulBackward(t *testing.T) {
	a := randDense(3, 4, 1)
	b := randDense(4, 2, 2)
	upstream := randDense(3, 2, 3)

	loss := func() float64 { return weightedSum(matMul(a, b), upstream) }
	gradA, gradB := matMulBackward(a, b, upstream)

	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			requireGradClose(t, numericalGrad(loss, a, i, j), gradA.At(i, j), "a")
		}
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			requireGradClose(t, numericalGrad(loss, b, i, j), gradB.At(i, j), "b")
		}
	}
}

func TestConcatSplitColsRoundTrip(t *testing.T) {
	a := randDense(3, 2, 4)
	b := randDense(3, 5, 5)
	c := randDense(3, 1, 6)

	joined := concatCols(a, b, c)
	r, cols := joined.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 8, cols)

	parts := splitCols(joined, []int{2, 5, 1})
	require.Len(t, parts, 3)
	assert.True(t, mat.Equal(a, parts[0]))
	assert.True(t, mat.Equal(b, parts[1]))
	assert.True(t, mat.Equal(c, parts[2]))
}

func TestConcatSplitRowsRoundTrip(t *testing.T) {
	top := randDense(4, 3, 7)
	bottom := randDense(2, 3, 8)

	joined := concatRows(top, bottom)
	r, c := joined.Dims()
	require.Equal(t, 6, r)
	require.Equal(t, 3, c)

	gotTop, gotBottom := splitRows(joined, 4)
	assert.True(t, mat.Equal(top, gotTop))
	assert.True(t, mat.Equal(bottom, gotBottom))
}

func TestColSumsIsBroadcastBackward(t *testing.T) {
	x := randDense(3, 4, 9)
	v := randDense(1, 4, 10)
	upstream := randDense(3, 4, 11)

	loss := func() float64 {
		out := mat.DenseCopyOf(x)
		addRowInPlace(out, v)
		return weightedSum(out, upstream)
	}
	grad := colSums(upstream)
	for j := 0; j < 4; j++ {
		requireGradClose(t, numericalGrad(loss, v, 0, j), grad.At(0, j), "broadcast row")
	}
}

func TestActivationBackwards(t *testing.T) {
	x := randDense(2, 5, 12)
	upstream := randDense(2, 5, 13)

	t.Run("elu", func(t *testing.T) {
		loss := func() float64 { return weightedSum(elu(x), upstream) }
		grad := eluBackward(x, upstream)
		for i := 0; i < 2; i++ {
			for j := 0; j < 5; j++ {
				requireGradClose(t, numericalGrad(loss, x, i, j), grad.At(i, j), "elu input")
			}
		}
	})

	t.Run("sigmoid", func(t *testing.T) {
		loss := func() float64 { return weightedSum(sigmoid(x), upstream) }
		grad := sigmoidBackward(sigmoid(x), upstream)
		for i := 0; i < 2; i++ {
			for j := 0; j < 5; j++ {
				requireGradClose(t, numericalGrad(loss, x, i, j), grad.At(i, j), "sigmoid input")
			}
		}
	})

	t.Run("tanh", func(t *testing.T) {
		loss := func() float64 { return weightedSum(tanhMat(x), upstream) }
		grad := tanhBackward(tanhMat(x), upstream)
		for i := 0; i < 2; i++ {
			for j := 0; j < 5; j++ {
				requireGradClose(t, numericalGrad(loss, x, i, j), grad.At(i, j), "tanh input")
			}
		}
	})
}

func TestEluShape(t *testing.T) {
	x := mat.NewDense(1, 3, []float64{2, 0, -2})
	out := elu(x)

	assert.Equal(t, 2.0, out.At(0, 0))
	assert.Equal(t, 0.0, out.At(0, 1))
	assert.InDelta(t, math.Exp(-2)-1, out.At(0, 2), 1e-15)
}

func TestSoftmaxRows(t *testing.T) {
	x := randDense(4, 6, 14)
	y := softmaxRows(x)

	for i := 0; i < 4; i++ {
		sum := 0.0
		for j := 0; j < 6; j++ {
			v := y.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "row %d", i)
	}
}

func TestSoftmaxRowsStability(t *testing.T) {
	// Large scores must not overflow: the row max is subtracted first.
	x := mat.NewDense(1, 3, []float64{1000, 1001, 999})
	y := softmaxRows(x)
	sum := y.At(0, 0) + y.At(0, 1) + y.At(0, 2)
	require.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, y.At(0, 1), y.At(0, 0))
}

func TestSoftmaxRowsBackward(t *testing.T) {
	x := randDense(3, 4, 15)
	upstream := randDense(3, 4, 16)

	loss := func() float64 { return weightedSum(softmaxRows(x), upstream) }
	grad := softmaxRowsBackward(softmaxRows(x), upstream)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			requireGradClose(t, numericalGrad(loss, x, i, j), grad.At(i, j), "softmax input")
		}
	}
}

// ---------------------------------------------------------------------------
// Layer norm.
// ---------------------------------------------------------------------------

func TestLayerNormNormalizes(t *testing.T) {
	in := newInitializer(1)
	ln := newLayerNorm(in, "ln", 8)
	x := randDense(5, 8, 17)

	y := ln.Forward(x)
	// Fresh gamma=1, beta=0: every output row has mean ~0 and variance ~1.
	for i := 0; i < 5; i++ {
		row := y.RawRowView(i)
		mean, variance := 0.0, 0.0
		for _, v := range row {
			mean += v
		}
		mean /= 8
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= 8
		assert.InDelta(t, 0.0, mean, 1e-12)
		assert.InDelta(t, 1.0, variance, 1e-4)
	}
}

func TestLayerNormBackward(t *testing.T) {
	in := newInitializer(2)
	ln := newLayerNorm(in, "ln", 6)
	// Non-trivial gain/shift so the parameter gradients are exercised too.
	for j := 0; j < 6; j++ {
		ln.gamma.W.Set(0, j, 1+0.1*float64(j))
		ln.beta.W.Set(0, j, -0.2*float64(j))
	}
	x := randDense(3, 6, 18)
	upstream := randDense(3, 6, 19)

	loss := func() float64 { return weightedSum(ln.Forward(x), upstream) }

	zeroGrads(ln.params())
	gradX := ln.Backward(x, upstream)

	for i := 0; i < 3; i++ {
		for j := 0; j < 6; j++ {
			requireGradClose(t, numericalGrad(loss, x, i, j), gradX.At(i, j), "layer norm input")
		}
	}
	checkParamGrads(t, ln.params(), loss)
}

// ---------------------------------------------------------------------------
// Dropout.
// ---------------------------------------------------------------------------

func TestDropoutDisabled(t *testing.T) {
	x := randDense(3, 4, 20)

	out, mask := applyDropout(x, 0.5, nil)
	require.Nil(t, mask, "nil rng must disable dropout")
	assert.True(t, mat.Equal(x, out))

	out, mask = applyDropout(x, 0, rand.New(rand.NewSource(1)))
	require.Nil(t, mask, "zero rate must disable dropout")
	assert.True(t, mat.Equal(x, out))
}

func TestDropoutMask(t *testing.T) {
	x := randDense(10, 10, 21)
	rng := rand.New(rand.NewSource(7))

	out, mask := applyDropout(x, 0.4, rng)
	require.NotNil(t, mask)

	kept := 0
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			m := mask.At(i, j)
			if m == 0 {
				assert.Equal(t, 0.0, out.At(i, j))
				continue
			}
			kept++
			// Inverted dropout: surviving entries are scaled by 1/keep.
			assert.InDelta(t, 1/0.6, m, 1e-12)
			assert.InDelta(t, x.At(i, j)/0.6, out.At(i, j), 1e-12)
		}
	}
	// With 100 samples at keep=0.6, anything outside [30, 90] means the
	// mask is not being sampled at all.
	assert.Greater(t, kept, 30)
	assert.Less(t, kept, 90)

	// Backward routes gradients through the same mask.
	upstream := randDense(10, 10, 22)
	grad := dropoutBackward(upstream, mask)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			assert.Equal(t, upstream.At(i, j)*mask.At(i, j), grad.At(i, j))
		}
	}
}
