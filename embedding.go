package tft

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Input embedding: every variable becomes a width-d vector per position
// before it reaches variable selection, so the VSNs see a uniform shape
// regardless of variable type. Continuous values pass through a learned
// 1→d linear map (the scalar scales a learned direction, plus bias);
// categorical values index a learned table, one row per category.

type varEmbedding struct {
	spec  VariableSpec
	lin   *linear // continuous path
	table *Param  // categorical path, cardinality × d
}

func newVarEmbedding(in *initializer, prefix string, spec VariableSpec, dim int) *varEmbedding {
	e := &varEmbedding{spec: spec}
	name := prefix + "." + spec.Name
	if spec.Kind == Categorical {
		e.table = in.xavier(name+".table", spec.Cardinality, dim)
	} else {
		e.lin = newLinear(in, name, 1, dim, true)
	}
	return e
}

func newEmbeddings(in *initializer, prefix string, specs []VariableSpec, dim int) []*varEmbedding {
	out := make([]*varEmbedding, len(specs))
	for i, spec := range specs {
		out[i] = newVarEmbedding(in, prefix, spec, dim)
	}
	return out
}

type embCache struct {
	x      *mat.Dense // continuous input column
	values []float64  // categorical indices
}

// ForwardWithCache embeds one variable's values (one per position) into a
// len(values)×d matrix.
func (e *varEmbedding) ForwardWithCache(values []float64) (*mat.Dense, *embCache) {
	if e.lin != nil {
		col := mat.NewDense(len(values), 1, append([]float64(nil), values...))
		return e.lin.Forward(col), &embCache{x: col}
	}
	_, dim := e.table.W.Dims()
	out := mat.NewDense(len(values), dim, nil)
	for t, v := range values {
		copy(out.RawRowView(t), e.table.W.RawRowView(int(v)))
	}
	return out, &embCache{values: values}
}

// Backward accumulates parameter gradients. Inputs are data, not
// activations, so no input gradient is returned.
func (e *varEmbedding) Backward(cache *embCache, gradY *mat.Dense) {
	if e.lin != nil {
		e.lin.Backward(cache.x, gradY)
		return
	}
	for t, v := range cache.values {
		floats.Add(e.table.Grad.RawRowView(int(v)), gradY.RawRowView(t))
	}
}

func (e *varEmbedding) params() []*Param {
	if e.lin != nil {
		return e.lin.params()
	}
	return []*Param{e.table}
}
