package tft

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Param is one named parameter matrix together with its gradient buffer.
// Gradients accumulate across the windows of a batch and across every use
// of the parameter within a window (an LSTM cell reuses its weights at
// every timestep); the optimizer consumes and the trainer zeroes them.
//
// Vectors are stored as 1×n matrices so the optimizer and the checkpoint
// writer only ever deal with one shape class.
type Param struct {
	Name string
	W    *mat.Dense
	Grad *mat.Dense
}

// ZeroGrad clears the gradient buffer. Called before each batch.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// AddGrad accumulates delta into the gradient buffer.
func (p *Param) AddGrad(delta *mat.Dense) {
	p.Grad.Add(p.Grad, delta)
}

// Size returns the number of scalar values in the parameter.
func (p *Param) Size() int {
	r, c := p.W.Dims()
	return r * c
}

// initializer produces freshly initialized parameters from one seeded
// source, so two models built with the same seed are bit-identical.
type initializer struct {
	src rand.Source
}

func newInitializer(seed uint64) *initializer {
	return &initializer{src: rand.NewSource(seed)}
}

// xavier creates an (r × c) parameter with Glorot-normal entries,
// sigma = sqrt(2 / (r + c)).
func (in *initializer) xavier(name string, r, c int) *Param {
	dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2.0 / float64(r+c)), Src: in.src}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = dist.Rand()
	}
	return &Param{
		Name: name,
		W:    mat.NewDense(r, c, data),
		Grad: mat.NewDense(r, c, nil),
	}
}

// zeros creates an (r × c) parameter initialized to zero (biases).
func (in *initializer) zeros(name string, r, c int) *Param {
	return &Param{
		Name: name,
		W:    mat.NewDense(r, c, nil),
		Grad: mat.NewDense(r, c, nil),
	}
}

// ones creates an (r × c) parameter initialized to one (layer norm gain).
func (in *initializer) ones(name string, r, c int) *Param {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = 1
	}
	return &Param{
		Name: name,
		W:    mat.NewDense(r, c, data),
		Grad: mat.NewDense(r, c, nil),
	}
}

// linear is a dense affine map y = x·W + b applied to position-major
// matrices (rows = positions). The bias is optional; gates and skip
// projections omit it.
type linear struct {
	w *Param // (in × out)
	b *Param // (1 × out) or nil
}

func newLinear(in *initializer, name string, inDim, outDim int, bias bool) *linear {
	l := &linear{w: in.xavier(name+".w", inDim, outDim)}
	if bias {
		l.b = in.zeros(name+".b", 1, outDim)
	}
	return l
}

// Forward computes x·W (+ b broadcast across rows).
func (l *linear) Forward(x *mat.Dense) *mat.Dense {
	out := matMul(x, l.w.W)
	if l.b != nil {
		addRowInPlace(out, l.b.W)
	}
	return out
}

// Backward accumulates parameter gradients for the call that produced
// gradY from input x, and returns the gradient with respect to x.
//
//	dL/dW = xT · gradY
//	dL/db = column sums of gradY
//	dL/dx = gradY · WT
func (l *linear) Backward(x, gradY *mat.Dense) *mat.Dense {
	gradW := matMul(x.T(), gradY)
	l.w.AddGrad(gradW)
	if l.b != nil {
		l.b.AddGrad(colSums(gradY))
	}
	return matMul(gradY, l.w.W.T())
}

func (l *linear) params() []*Param {
	if l.b == nil {
		return []*Param{l.w}
	}
	return []*Param{l.w, l.b}
}
