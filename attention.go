package tft

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Masked multi-head self-attention over the full k+τ temporal sequence.
// This is where the model looks across time: the recurrent block only
// carries information forward step by step, while attention lets horizon
// position 40 directly inspect what happened at position 3 if that is
// where the signal lives (think weekly seasonality seen from a daily
// series).
//
// INTENTION:
// Standard scaled dot-product attention, with one forecasting-specific
// constraint baked in as a mask. Per head:
//
//	scores(i,j) = (Q_i · K_j) / √d_head  + mask(i,j)
//	A = softmax(scores, per row)
//	out_i = Σ_j A(i,j) · V_j
//
// The mask encodes causality for forecasting: every position may attend
// to the entire encode region (those k steps are all in the past at
// forecast time), but a decode position may only attend to decode
// positions at or before itself. Disallowed pairs get −1e9 added to the
// score, which drives their post-softmax weight to zero. The mask depends
// only on (k, τ), so it is built once at model construction and shared by
// every forward pass.
//
// The per-head weight matrices A are returned to the caller on every
// forward pass. They are the model's explanation of itself: A(i,j) is how
// much position i relied on position j, and inspecting them tells you
// which past regions drive each horizon.
//
// RECOMMENDED READING:
// - "Attention Is All You Need" by Vaswani et al. (2017)
//   https://arxiv.org/abs/1706.03762
// - "Temporal Fusion Transformers for Interpretable Multi-horizon Time
//   Series Forecasting" by Lim et al. (2021), §4.5 on interpretability
//   https://arxiv.org/abs/1912.09363
// ===========================================================================

// maskedScore is the additive penalty for disallowed attention pairs.
// Large enough to zero the softmax weight, small enough to stay finite.
const maskedScore = -1e9

// newCausalMask builds the additive (k+τ)×(k+τ) attention mask: zero where
// attention is allowed, maskedScore where it is not. Position i may attend
// to every encode position and to decode positions j ≤ i.
func newCausalMask(k, tau int) *mat.Dense {
	n := k + tau
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := k; j < n; j++ {
			if j > i {
				m.Set(i, j, maskedScore)
			}
		}
	}
	return m
}

// temporalSelfAttention is multi-head attention plus the gated skip join
// that combines the projected head outputs with the pre-attention input.
type temporalSelfAttention struct {
	numHeads int
	dModel   int
	dHead    int

	wq, wk, wv *linear // dModel → dModel, sliced per head
	wo         *linear // dModel → dModel output projection
	gate       *gateAddNorm
}

func newTemporalSelfAttention(in *initializer, dModel, numHeads int, dropout float64) *temporalSelfAttention {
	return &temporalSelfAttention{
		numHeads: numHeads,
		dModel:   dModel,
		dHead:    dModel / numHeads,
		wq:       newLinear(in, "attn.wq", dModel, dModel, false),
		wk:       newLinear(in, "attn.wk", dModel, dModel, false),
		wv:       newLinear(in, "attn.wv", dModel, dModel, false),
		wo:       newLinear(in, "attn.wo", dModel, dModel, true),
		gate:     newGateAddNorm(in, "attn.skip", dModel, dropout),
	}
}

// headView slices head h's columns out of a full-width projection without
// copying.
func (a *temporalSelfAttention) headView(x *mat.Dense, h int) *mat.Dense {
	rows, _ := x.Dims()
	return x.Slice(0, rows, h*a.dHead, (h+1)*a.dHead).(*mat.Dense)
}

type attnCache struct {
	x       *mat.Dense
	q, k, v *mat.Dense
	heads   []*mat.Dense // per-head softmax weights
	ctx     *mat.Dense   // concatenated head outputs, pre-projection
	gan     *gateAddNormCache
}

// ForwardWithCache attends over x ((k+τ)×dModel) under the additive mask
// and returns the gated output along with the per-head attention weights.
func (a *temporalSelfAttention) ForwardWithCache(x, mask *mat.Dense, rng *rand.Rand) (out *mat.Dense, weights []*mat.Dense, cache *attnCache) {
	q := a.wq.Forward(x)
	k := a.wk.Forward(x)
	v := a.wv.Forward(x)

	invSqrt := 1 / math.Sqrt(float64(a.dHead))
	heads := make([]*mat.Dense, a.numHeads)
	ctxParts := make([]*mat.Dense, a.numHeads)
	for h := 0; h < a.numHeads; h++ {
		qh, kh, vh := a.headView(q, h), a.headView(k, h), a.headView(v, h)
		scores := matMul(qh, kh.T())
		scores.Scale(invSqrt, scores)
		scores.Add(scores, mask)
		heads[h] = softmaxRows(scores)
		ctxParts[h] = matMul(heads[h], vh)
	}

	ctx := concatCols(ctxParts...)
	proj := a.wo.Forward(ctx)
	out, gan := a.gate.ForwardWithCache(proj, x, rng)

	return out, heads, &attnCache{x: x, q: q, k: k, v: v, heads: heads, ctx: ctx, gan: gan}
}

// Backward propagates gradY through the gate, the output projection, each
// head, and the three input projections, returning the gradient for x.
func (a *temporalSelfAttention) Backward(cache *attnCache, gradY *mat.Dense) *mat.Dense {
	gradProj, gradSkip := a.gate.Backward(cache.gan, gradY)
	gradCtx := a.wo.Backward(cache.ctx, gradProj)

	widths := make([]int, a.numHeads)
	for i := range widths {
		widths[i] = a.dHead
	}
	gradCtxParts := splitCols(gradCtx, widths)

	rows, _ := cache.x.Dims()
	gradQ := mat.NewDense(rows, a.dModel, nil)
	gradK := mat.NewDense(rows, a.dModel, nil)
	gradV := mat.NewDense(rows, a.dModel, nil)

	invSqrt := 1 / math.Sqrt(float64(a.dHead))
	for h := 0; h < a.numHeads; h++ {
		A := cache.heads[h]
		qh, kh, vh := a.headView(cache.q, h), a.headView(cache.k, h), a.headView(cache.v, h)

		gradA := matMul(gradCtxParts[h], vh.T())
		gradVh := matMul(A.T(), gradCtxParts[h])
		gradScores := softmaxRowsBackward(A, gradA)
		gradScores.Scale(invSqrt, gradScores)

		gradQh := matMul(gradScores, kh)
		gradKh := matMul(gradScores.T(), qh)

		lo := h * a.dHead
		for i := 0; i < rows; i++ {
			copy(gradQ.RawRowView(i)[lo:lo+a.dHead], gradQh.RawRowView(i))
			copy(gradK.RawRowView(i)[lo:lo+a.dHead], gradKh.RawRowView(i))
			copy(gradV.RawRowView(i)[lo:lo+a.dHead], gradVh.RawRowView(i))
		}
	}

	gradX := a.wq.Backward(cache.x, gradQ)
	gradX.Add(gradX, a.wk.Backward(cache.x, gradK))
	gradX.Add(gradX, a.wv.Backward(cache.x, gradV))
	gradX.Add(gradX, gradSkip)
	return gradX
}

func (a *temporalSelfAttention) params() []*Param {
	ps := a.wq.params()
	ps = append(ps, a.wk.params()...)
	ps = append(ps, a.wv.params()...)
	ps = append(ps, a.wo.params()...)
	return append(ps, a.gate.params()...)
}
