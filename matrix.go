package tft

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// MATRIX PRIMITIVES
// ===========================================================================
//
// Every activation in this package is a position-major *mat.Dense: rows are
// timesteps (or the single "row" of a static feature), columns are the
// hidden dimension. Each forward primitive below is paired with an analytic
// backward that takes the upstream gradient and returns the input gradient,
// so the model files can mirror their forward passes step by step when
// backpropagating.
//
// Shape errors here are programmer bugs, not runtime conditions: all shapes
// are fixed by the configuration, checked at construction, and cannot drift
// at call time. gonum panics on dimension mismatch, which is exactly the
// behavior we want.
//
// ===========================================================================

// matMul computes a·b into a fresh matrix.
func matMul(a, b mat.Matrix) *mat.Dense {
	ar, _ := a.Dims()
	_, bc := b.Dims()
	out := mat.NewDense(ar, bc, nil)
	out.Mul(a, b)
	return out
}

// matMulBackward computes gradients for c = a·b:
//
//	dL/da = gradC · bT
//	dL/db = aT · gradC
func matMulBackward(a, b mat.Matrix, gradC *mat.Dense) (gradA, gradB *mat.Dense) {
	return matMul(gradC, b.T()), matMul(a.T(), gradC)
}

// add returns a + b elementwise.
func add(a, b *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.Add(a, b)
	return out
}

// hadamard returns a ⊙ b elementwise. The backward of c = a ⊙ b is
// gradA = gradC ⊙ b, gradB = gradC ⊙ a, i.e. hadamard again.
func hadamard(a, b *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(a, b)
	return out
}

// scale returns f·a.
func scale(f float64, a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(f, a)
	return out
}

// addRowInPlace adds the 1×n row vector v to every row of x.
func addRowInPlace(x *mat.Dense, v *mat.Dense) {
	rows, _ := x.Dims()
	vrow := v.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(x.RawRowView(i), vrow)
	}
}

// colSums collapses an (r × c) gradient to a 1×c row by summing rows — the
// backward of broadcasting a row vector across rows.
func colSums(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(1, cols, nil)
	dst := out.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(dst, x.RawRowView(i))
	}
	return out
}

// concatCols stacks matrices side by side: (r × c1), (r × c2), ... →
// (r × Σci). Used to flatten variable embeddings and to merge attention
// heads.
func concatCols(ms ...*mat.Dense) *mat.Dense {
	rows, _ := ms[0].Dims()
	total := 0
	for _, m := range ms {
		_, c := m.Dims()
		total += c
	}
	out := mat.NewDense(rows, total, nil)
	off := 0
	for _, m := range ms {
		r, c := m.Dims()
		if r != rows {
			panic(fmt.Sprintf("tft: concatCols row mismatch %d vs %d", r, rows))
		}
		for i := 0; i < r; i++ {
			copy(out.RawRowView(i)[off:off+c], m.RawRowView(i))
		}
		off += c
	}
	return out
}

// splitCols is the inverse of concatCols for gradients: it slices an
// (r × Σci) matrix back into per-block copies.
func splitCols(x *mat.Dense, widths []int) []*mat.Dense {
	rows, _ := x.Dims()
	out := make([]*mat.Dense, len(widths))
	off := 0
	for b, w := range widths {
		block := mat.NewDense(rows, w, nil)
		for i := 0; i < rows; i++ {
			copy(block.RawRowView(i), x.RawRowView(i)[off:off+w])
		}
		out[b] = block
		off += w
	}
	return out
}

// concatRows stacks matrices top to bottom: (r1 × c), (r2 × c), ... →
// (Σri × c). Used to join the encoder and decoder halves of a window.
func concatRows(ms ...*mat.Dense) *mat.Dense {
	_, cols := ms[0].Dims()
	total := 0
	for _, m := range ms {
		r, _ := m.Dims()
		total += r
	}
	out := mat.NewDense(total, cols, nil)
	off := 0
	for _, m := range ms {
		r, c := m.Dims()
		if c != cols {
			panic(fmt.Sprintf("tft: concatRows column mismatch %d vs %d", c, cols))
		}
		for i := 0; i < r; i++ {
			copy(out.RawRowView(off+i), m.RawRowView(i))
		}
		off += r
	}
	return out
}

// splitRows cuts x into copies of its first `at` rows and the remainder.
func splitRows(x *mat.Dense, at int) (top, bottom *mat.Dense) {
	rows, cols := x.Dims()
	top = mat.NewDense(at, cols, nil)
	bottom = mat.NewDense(rows-at, cols, nil)
	for i := 0; i < at; i++ {
		copy(top.RawRowView(i), x.RawRowView(i))
	}
	for i := at; i < rows; i++ {
		copy(bottom.RawRowView(i-at), x.RawRowView(i))
	}
	return top, bottom
}

// rowAt returns a 1×c view of row i without copying.
func rowAt(x *mat.Dense, i int) *mat.Dense {
	_, cols := x.Dims()
	return x.Slice(i, i+1, 0, cols).(*mat.Dense)
}

// ===========================================================================
// ACTIVATIONS
// ===========================================================================

// elu applies the exponential linear unit: x for x > 0, exp(x)−1 otherwise.
func elu(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return math.Exp(v) - 1
	}, x)
	return out
}

// eluBackward computes the input gradient from the pre-activation x:
// d/dx = 1 for x > 0, exp(x) otherwise.
func eluBackward(x, gradY *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		xr, gr, or := x.RawRowView(i), gradY.RawRowView(i), out.RawRowView(i)
		for j := 0; j < c; j++ {
			if xr[j] > 0 {
				or[j] = gr[j]
			} else {
				or[j] = gr[j] * math.Exp(xr[j])
			}
		}
	}
	return out
}

// sigmoid applies the logistic function elementwise.
func sigmoid(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return 1 / (1 + math.Exp(-v))
	}, x)
	return out
}

// sigmoidBackward computes the input gradient from the activation output y:
// d/dx = y(1−y).
func sigmoidBackward(y, gradY *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		yr, gr, or := y.RawRowView(i), gradY.RawRowView(i), out.RawRowView(i)
		for j := 0; j < c; j++ {
			or[j] = gr[j] * yr[j] * (1 - yr[j])
		}
	}
	return out
}

// tanhMat applies tanh elementwise.
func tanhMat(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Tanh(v)
	}, x)
	return out
}

// tanhBackward computes the input gradient from the activation output y:
// d/dx = 1 − y².
func tanhBackward(y, gradY *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		yr, gr, or := y.RawRowView(i), gradY.RawRowView(i), out.RawRowView(i)
		for j := 0; j < c; j++ {
			or[j] = gr[j] * (1 - yr[j]*yr[j])
		}
	}
	return out
}

// softmaxRows normalizes each row to a probability distribution, shifting
// by the row max for numerical stability.
func softmaxRows(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		xr, or := x.RawRowView(i), out.RawRowView(i)
		maxV := floats.Max(xr)
		sum := 0.0
		for j := 0; j < c; j++ {
			or[j] = math.Exp(xr[j] - maxV)
			sum += or[j]
		}
		floats.Scale(1/sum, or)
	}
	return out
}

// softmaxRowsBackward computes the input gradient from the softmax output.
// Per row: gradX_j = y_j · (gradY_j − Σ_k gradY_k·y_k).
func softmaxRowsBackward(y, gradY *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		yr, gr, or := y.RawRowView(i), gradY.RawRowView(i), out.RawRowView(i)
		dot := floats.Dot(gr, yr)
		for j := 0; j < c; j++ {
			or[j] = yr[j] * (gr[j] - dot)
		}
	}
	return out
}

// ===========================================================================
// LAYER NORM
// ===========================================================================

const layerNormEps = 1e-5

// layerNorm normalizes each row over its features and applies a learned
// gain and shift: y = gamma ⊙ (x − mean)/std + beta.
type layerNorm struct {
	dim   int
	gamma *Param
	beta  *Param
}

func newLayerNorm(in *initializer, name string, dim int) *layerNorm {
	return &layerNorm{
		dim:   dim,
		gamma: in.ones(name+".gamma", 1, dim),
		beta:  in.zeros(name+".beta", 1, dim),
	}
}

func (ln *layerNorm) Forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	g, b := ln.gamma.W.RawRowView(0), ln.beta.W.RawRowView(0)
	for i := 0; i < rows; i++ {
		xr, or := x.RawRowView(i), out.RawRowView(i)
		mean := floats.Sum(xr) / float64(cols)
		variance := 0.0
		for j := 0; j < cols; j++ {
			d := xr[j] - mean
			variance += d * d
		}
		variance /= float64(cols)
		std := math.Sqrt(variance + layerNormEps)
		for j := 0; j < cols; j++ {
			or[j] = (xr[j]-mean)/std*g[j] + b[j]
		}
	}
	return out
}

// Backward recomputes the row statistics from the cached input and applies
// the standard layer norm gradient:
//
//	gradX = (n·gradXNorm − Σ gradXNorm − xNorm·Σ(gradXNorm ⊙ xNorm)) / (n·std)
//
// with gradXNorm = gradY ⊙ gamma. Parameter gradients accumulate in place.
func (ln *layerNorm) Backward(x, gradY *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	gradX := mat.NewDense(rows, cols, nil)
	g := ln.gamma.W.RawRowView(0)
	gGrad := ln.gamma.Grad.RawRowView(0)
	bGrad := ln.beta.Grad.RawRowView(0)
	n := float64(cols)

	for i := 0; i < rows; i++ {
		xr, gr, or := x.RawRowView(i), gradY.RawRowView(i), gradX.RawRowView(i)

		mean := floats.Sum(xr) / n
		variance := 0.0
		for j := 0; j < cols; j++ {
			d := xr[j] - mean
			variance += d * d
		}
		variance /= n
		std := math.Sqrt(variance + layerNormEps)

		sumGrad, sumGradXNorm := 0.0, 0.0
		for j := 0; j < cols; j++ {
			xNorm := (xr[j] - mean) / std
			gGrad[j] += gr[j] * xNorm
			bGrad[j] += gr[j]
			gradXNorm := gr[j] * g[j]
			sumGrad += gradXNorm
			sumGradXNorm += gradXNorm * xNorm
		}
		for j := 0; j < cols; j++ {
			xNorm := (xr[j] - mean) / std
			gradXNorm := gr[j] * g[j]
			or[j] = (n*gradXNorm - sumGrad - xNorm*sumGradXNorm) / (n * std)
		}
	}
	return gradX
}

func (ln *layerNorm) params() []*Param {
	return []*Param{ln.gamma, ln.beta}
}

// ===========================================================================
// DROPOUT
// ===========================================================================

// applyDropout samples an inverted-dropout mask (entries 0 or 1/keep) and
// returns the masked activation with the mask for the backward pass. A nil
// rng or zero rate disables dropout (inference path).
func applyDropout(x *mat.Dense, rate float64, rng *rand.Rand) (out, mask *mat.Dense) {
	if rng == nil || rate == 0 {
		return x, nil
	}
	r, c := x.Dims()
	keep := 1 - rate
	mask = mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		mr := mask.RawRowView(i)
		for j := 0; j < c; j++ {
			if rng.Float64() < keep {
				mr[j] = 1 / keep
			}
		}
	}
	return hadamard(x, mask), mask
}

// dropoutBackward routes the gradient through the cached mask. A nil mask
// means dropout was disabled for the call.
func dropoutBackward(gradY, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return gradY
	}
	return hadamard(gradY, mask)
}
