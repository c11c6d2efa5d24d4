package tft

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Variable selection: instead of feeding a flat concatenation of features
// into the network and hoping it learns to ignore the useless ones, the
// model scores every input variable at every position and takes a weighted
// sum of per-variable transforms.
//
// Each variable gets its own GRN. A separate selection GRN looks at the
// flattened concatenation of all raw embeddings (plus the static context,
// when present) and emits one logit per variable; softmax turns the logits
// into weights α with Σα = 1, α ≥ 0. The α matrix is returned alongside
// the output because it is directly interpretable: α[t][i] is the share of
// attention variable i received at position t.
//
// Three instances of this network exist in the full model: one over static
// variables, one over past inputs, one over future known inputs. They share
// code, not parameters.
// ===========================================================================

// variableSelectionNetwork scores and mixes numVars embeddings of width dim.
// ctxDim > 0 wires a static context row into the selection GRN.
type variableSelectionNetwork struct {
	numVars int
	dim     int

	varGRNs []*gatedResidualNetwork // one per variable, dim → dim
	selGRN  *gatedResidualNetwork   // numVars·dim → numVars logits
}

func newVSN(in *initializer, name string, numVars, dim, ctxDim int, dropout float64) *variableSelectionNetwork {
	v := &variableSelectionNetwork{
		numVars: numVars,
		dim:     dim,
		varGRNs: make([]*gatedResidualNetwork, numVars),
		selGRN:  newGRN(in, name+".select", numVars*dim, dim, numVars, ctxDim, dropout),
	}
	for i := range v.varGRNs {
		v.varGRNs[i] = newGRN(in, fmt.Sprintf("%s.var%d", name, i), dim, dim, dim, 0, dropout)
	}
	return v
}

type vsnCache struct {
	inputs      []*mat.Dense
	varCaches   []*grnCache
	transformed []*mat.Dense
	selCache    *grnCache
	weights     *mat.Dense // α, rows × numVars
}

// ForwardWithCache mixes the inputs (each rows × dim, same row count) into
// a single rows × dim sequence. c is the optional 1×ctxDim static context.
// The returned weights matrix is rows × numVars.
func (v *variableSelectionNetwork) ForwardWithCache(inputs []*mat.Dense, c *mat.Dense, rng *rand.Rand) (out, weights *mat.Dense, cache *vsnCache) {
	if len(inputs) != v.numVars {
		panic("tft: variable selection arity mismatch")
	}
	rows, _ := inputs[0].Dims()

	logits, selCache := v.selGRN.ForwardWithCache(concatCols(inputs...), c, rng)
	weights = softmaxRows(logits)

	transformed := make([]*mat.Dense, v.numVars)
	varCaches := make([]*grnCache, v.numVars)
	for i, x := range inputs {
		transformed[i], varCaches[i] = v.varGRNs[i].ForwardWithCache(x, nil, rng)
	}

	out = mat.NewDense(rows, v.dim, nil)
	for i := 0; i < v.numVars; i++ {
		for t := 0; t < rows; t++ {
			floats.AddScaled(out.RawRowView(t), weights.At(t, i), transformed[i].RawRowView(t))
		}
	}

	return out, weights, &vsnCache{
		inputs:      inputs,
		varCaches:   varCaches,
		transformed: transformed,
		selCache:    selCache,
		weights:     weights,
	}
}

// Backward returns per-variable input gradients and the context gradient
// (nil when the VSN has no context input).
func (v *variableSelectionNetwork) Backward(cache *vsnCache, gradY *mat.Dense) (gradInputs []*mat.Dense, gradC *mat.Dense) {
	rows, _ := gradY.Dims()

	// out[t] = Σ_i α[t,i] · transformed_i[t]
	gradWeights := mat.NewDense(rows, v.numVars, nil)
	gradInputs = make([]*mat.Dense, v.numVars)
	for i := 0; i < v.numVars; i++ {
		gradT := mat.NewDense(rows, v.dim, nil)
		for t := 0; t < rows; t++ {
			gy := gradY.RawRowView(t)
			gradWeights.Set(t, i, floats.Dot(gy, cache.transformed[i].RawRowView(t)))
			floats.AddScaled(gradT.RawRowView(t), cache.weights.At(t, i), gy)
		}
		gradInputs[i], _ = v.varGRNs[i].Backward(cache.varCaches[i], gradT)
	}

	gradLogits := softmaxRowsBackward(cache.weights, gradWeights)
	gradFlat, gradC := v.selGRN.Backward(cache.selCache, gradLogits)

	widths := make([]int, v.numVars)
	for i := range widths {
		widths[i] = v.dim
	}
	for i, g := range splitCols(gradFlat, widths) {
		gradInputs[i].Add(gradInputs[i], g)
	}
	return gradInputs, gradC
}

func (v *variableSelectionNetwork) params() []*Param {
	ps := v.selGRN.params()
	for _, g := range v.varGRNs {
		ps = append(ps, g.params()...)
	}
	return ps
}
