package tft

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Static covariates (store ID, sensor location, product category) describe
// a whole series rather than a single timestep, so they are encoded once
// per window and injected everywhere: into temporal variable selection,
// into the recurrent initial state, and into enrichment before attention.
// Four independently parameterized GRNs read the same selected static
// embedding and produce one context vector each.

// staticContexts carries the four conditioning vectors, each 1×dim.
type staticContexts struct {
	selection  *mat.Dense // c_s: conditions the temporal variable selection
	hidden     *mat.Dense // c_h: initial recurrent hidden state
	cell       *mat.Dense // c_c: initial recurrent cell state
	enrichment *mat.Dense // c_e: conditions static enrichment
}

// zeroStaticContexts is the fallback when the feature set has no static
// variables: all contexts are zero rows and the model runs unconditioned.
func zeroStaticContexts(dim int) *staticContexts {
	return &staticContexts{
		selection:  mat.NewDense(1, dim, nil),
		hidden:     mat.NewDense(1, dim, nil),
		cell:       mat.NewDense(1, dim, nil),
		enrichment: mat.NewDense(1, dim, nil),
	}
}

type staticCovariateEncoder struct {
	dim int

	selectGRN *gatedResidualNetwork
	hiddenGRN *gatedResidualNetwork
	cellGRN   *gatedResidualNetwork
	enrichGRN *gatedResidualNetwork
}

func newStaticEncoder(in *initializer, dim int, dropout float64) *staticCovariateEncoder {
	return &staticCovariateEncoder{
		dim:       dim,
		selectGRN: newGRN(in, "static.ctx_selection", dim, dim, dim, 0, dropout),
		hiddenGRN: newGRN(in, "static.ctx_hidden", dim, dim, dim, 0, dropout),
		cellGRN:   newGRN(in, "static.ctx_cell", dim, dim, dim, 0, dropout),
		enrichGRN: newGRN(in, "static.ctx_enrichment", dim, dim, dim, 0, dropout),
	}
}

type staticEncoderCache struct {
	input *mat.Dense
	selC  *grnCache
	hidC  *grnCache
	cellC *grnCache
	enrC  *grnCache
}

// ForwardWithCache maps the 1×dim selected static embedding to the four
// context rows.
func (e *staticCovariateEncoder) ForwardWithCache(sel *mat.Dense, rng *rand.Rand) (*staticContexts, *staticEncoderCache) {
	ctx := &staticContexts{}
	cache := &staticEncoderCache{input: sel}
	ctx.selection, cache.selC = e.selectGRN.ForwardWithCache(sel, nil, rng)
	ctx.hidden, cache.hidC = e.hiddenGRN.ForwardWithCache(sel, nil, rng)
	ctx.cell, cache.cellC = e.cellGRN.ForwardWithCache(sel, nil, rng)
	ctx.enrichment, cache.enrC = e.enrichGRN.ForwardWithCache(sel, nil, rng)
	return ctx, cache
}

// Backward folds the four context gradients back into a gradient for the
// shared static embedding.
func (e *staticCovariateEncoder) Backward(cache *staticEncoderCache, grads *staticContexts) *mat.Dense {
	gradSel, _ := e.selectGRN.Backward(cache.selC, grads.selection)
	gh, _ := e.hiddenGRN.Backward(cache.hidC, grads.hidden)
	gc, _ := e.cellGRN.Backward(cache.cellC, grads.cell)
	ge, _ := e.enrichGRN.Backward(cache.enrC, grads.enrichment)
	gradSel.Add(gradSel, gh)
	gradSel.Add(gradSel, gc)
	gradSel.Add(gradSel, ge)
	return gradSel
}

func (e *staticCovariateEncoder) params() []*Param {
	ps := e.selectGRN.params()
	ps = append(ps, e.hiddenGRN.params()...)
	ps = append(ps, e.cellGRN.params()...)
	return append(ps, e.enrichGRN.params()...)
}
