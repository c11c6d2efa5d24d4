package tft

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the sequence-to-sequence backbone: an LSTM encoder
// that walks the k past steps, an LSTM decoder that walks the τ future
// steps, and the gated skip join that merges their outputs back with the
// selected inputs.
//
// INTENTION:
// Attention alone has no notion of order beyond what you inject into it.
// Instead of positional encodings, this architecture runs a recurrent pass
// first: the LSTM builds order-aware local features, and attention later
// picks long-range patterns out of those. The handoff matters — the
// decoder starts from the encoder's final hidden/cell state, and both
// start from learned static contexts (c_h, c_c), so series-level metadata
// shapes the recurrence from step one.
//
// The cell is a standard LSTM with per-gate weight matrices:
//
//	i = σ(x·W_xi + h·W_hi + b_i)      input gate
//	f = σ(x·W_xf + h·W_hf + b_f)      forget gate
//	g = tanh(x·W_xg + h·W_hg + b_g)   candidate state
//	o = σ(x·W_xo + h·W_ho + b_o)      output gate
//	c′ = f ⊙ c + i ⊙ g
//	h′ = o ⊙ tanh(c′)
//
// Backpropagation through time is spelled out manually: each forward step
// caches its gate activations, and the backward walks the steps in reverse
// carrying (gradH, gradC) from step t+1 into step t. This is the one part
// of the model that cannot parallelize across positions — the recurrence
// is a strict chain — so the loops here are plain and sequential.
//
// RECOMMENDED READING:
// - "Long Short-Term Memory" by Hochreiter & Schmidhuber (1997)
//   https://www.bioinf.jku.at/publications/older/2604.pdf
// - "Understanding LSTM Networks" by Christopher Olah
//   https://colah.github.io/posts/2015-08-Understanding-LSTMs/
// ===========================================================================

// lstmCell holds one layer's gate parameters. Input and hidden widths are
// both the model dimension here, since inputs arrive pre-embedded.
type lstmCell struct {
	inDim  int
	hidDim int

	wii, whi, bi *Param // input gate
	wif, whf, bf *Param // forget gate
	wig, whg, bg *Param // candidate
	wio, who, bo *Param // output gate
}

func newLSTMCell(in *initializer, name string, inDim, hidDim int) *lstmCell {
	return &lstmCell{
		inDim:  inDim,
		hidDim: hidDim,
		wii:    in.xavier(name+".w_xi", inDim, hidDim),
		whi:    in.xavier(name+".w_hi", hidDim, hidDim),
		bi:     in.zeros(name+".b_i", 1, hidDim),
		wif:    in.xavier(name+".w_xf", inDim, hidDim),
		whf:    in.xavier(name+".w_hf", hidDim, hidDim),
		// forget gate bias starts at 1 so early training does not erase
		// the cell state before the gates have learned anything
		bf:  in.ones(name+".b_f", 1, hidDim),
		wig: in.xavier(name+".w_xg", inDim, hidDim),
		whg: in.xavier(name+".w_hg", hidDim, hidDim),
		bg:  in.zeros(name+".b_g", 1, hidDim),
		wio: in.xavier(name+".w_xo", inDim, hidDim),
		who: in.xavier(name+".w_ho", hidDim, hidDim),
		bo:  in.zeros(name+".b_o", 1, hidDim),
	}
}

type lstmStepCache struct {
	x, hPrev, cPrev *mat.Dense
	i, f, g, o      *mat.Dense
	c, tanhC        *mat.Dense
}

func (cell *lstmCell) gatePre(x, hPrev *mat.Dense, wx, wh, b *Param) *mat.Dense {
	pre := matMul(x, wx.W)
	pre.Add(pre, matMul(hPrev, wh.W))
	addRowInPlace(pre, b.W)
	return pre
}

// Step advances the recurrence by one timestep. x, hPrev, cPrev are 1×dim
// rows; none of them are mutated.
func (cell *lstmCell) Step(x, hPrev, cPrev *mat.Dense) (h, c *mat.Dense, cache *lstmStepCache) {
	i := sigmoid(cell.gatePre(x, hPrev, cell.wii, cell.whi, cell.bi))
	f := sigmoid(cell.gatePre(x, hPrev, cell.wif, cell.whf, cell.bf))
	g := tanhMat(cell.gatePre(x, hPrev, cell.wig, cell.whg, cell.bg))
	o := sigmoid(cell.gatePre(x, hPrev, cell.wio, cell.who, cell.bo))

	c = add(hadamard(f, cPrev), hadamard(i, g))
	tc := tanhMat(c)
	h = hadamard(o, tc)

	return h, c, &lstmStepCache{x: x, hPrev: hPrev, cPrev: cPrev, i: i, f: f, g: g, o: o, c: c, tanhC: tc}
}

// StepBackward consumes the gradients flowing into h_t and c_t and returns
// the gradients for the step inputs. Parameter gradients accumulate on the
// cell.
func (cell *lstmCell) StepBackward(cache *lstmStepCache, gradH, gradC *mat.Dense) (gradX, gradHPrev, gradCPrev *mat.Dense) {
	gradO := hadamard(gradH, cache.tanhC)
	gradCT := add(gradC, tanhBackward(cache.tanhC, hadamard(gradH, cache.o)))

	gradF := hadamard(gradCT, cache.cPrev)
	gradCPrev = hadamard(gradCT, cache.f)
	gradI := hadamard(gradCT, cache.g)
	gradG := hadamard(gradCT, cache.i)

	gradIPre := sigmoidBackward(cache.i, gradI)
	gradFPre := sigmoidBackward(cache.f, gradF)
	gradGPre := tanhBackward(cache.g, gradG)
	gradOPre := sigmoidBackward(cache.o, gradO)

	cell.wii.AddGrad(matMul(cache.x.T(), gradIPre))
	cell.wif.AddGrad(matMul(cache.x.T(), gradFPre))
	cell.wig.AddGrad(matMul(cache.x.T(), gradGPre))
	cell.wio.AddGrad(matMul(cache.x.T(), gradOPre))

	cell.whi.AddGrad(matMul(cache.hPrev.T(), gradIPre))
	cell.whf.AddGrad(matMul(cache.hPrev.T(), gradFPre))
	cell.whg.AddGrad(matMul(cache.hPrev.T(), gradGPre))
	cell.who.AddGrad(matMul(cache.hPrev.T(), gradOPre))

	cell.bi.AddGrad(gradIPre)
	cell.bf.AddGrad(gradFPre)
	cell.bg.AddGrad(gradGPre)
	cell.bo.AddGrad(gradOPre)

	gradX = matMul(gradIPre, cell.wii.W.T())
	gradX.Add(gradX, matMul(gradFPre, cell.wif.W.T()))
	gradX.Add(gradX, matMul(gradGPre, cell.wig.W.T()))
	gradX.Add(gradX, matMul(gradOPre, cell.wio.W.T()))

	gradHPrev = matMul(gradIPre, cell.whi.W.T())
	gradHPrev.Add(gradHPrev, matMul(gradFPre, cell.whf.W.T()))
	gradHPrev.Add(gradHPrev, matMul(gradGPre, cell.whg.W.T()))
	gradHPrev.Add(gradHPrev, matMul(gradOPre, cell.who.W.T()))

	return gradX, gradHPrev, gradCPrev
}

func (cell *lstmCell) params() []*Param {
	return []*Param{
		cell.wii, cell.whi, cell.bi,
		cell.wif, cell.whf, cell.bf,
		cell.wig, cell.whg, cell.bg,
		cell.wio, cell.who, cell.bo,
	}
}

// runLSTM unrolls one cell over all rows of x from state (h0, c0) and
// returns the stacked hidden outputs, the final state, and the per-step
// caches for BPTT.
func runLSTM(cell *lstmCell, x, h0, c0 *mat.Dense) (outs, hFinal, cFinal *mat.Dense, steps []*lstmStepCache) {
	T, _ := x.Dims()
	outs = mat.NewDense(T, cell.hidDim, nil)
	steps = make([]*lstmStepCache, T)
	h, c := h0, c0
	for t := 0; t < T; t++ {
		h, c, steps[t] = cell.Step(rowAt(x, t), h, c)
		copy(outs.RawRowView(t), h.RawRowView(0))
	}
	return outs, h, c, steps
}

// runLSTMBackward walks the cached steps in reverse. gradOuts carries the
// per-step gradient on the hidden outputs; gradHFinal/gradCFinal inject
// gradient into the final state (nil means zero — no downstream consumer).
func runLSTMBackward(cell *lstmCell, steps []*lstmStepCache, gradOuts, gradHFinal, gradCFinal *mat.Dense) (gradX, gradH0, gradC0 *mat.Dense) {
	T := len(steps)
	gradX = mat.NewDense(T, cell.inDim, nil)

	carryH := gradHFinal
	if carryH == nil {
		carryH = mat.NewDense(1, cell.hidDim, nil)
	}
	carryC := gradCFinal
	if carryC == nil {
		carryC = mat.NewDense(1, cell.hidDim, nil)
	}

	for t := T - 1; t >= 0; t-- {
		gh := add(carryH, rowAt(gradOuts, t))
		var gx *mat.Dense
		gx, carryH, carryC = cell.StepBackward(steps[t], gh, carryC)
		copy(gradX.RawRowView(t), gx.RawRowView(0))
	}
	return gradX, carryH, carryC
}

// sequenceEncoderDecoder is the full recurrent block: stacked encoder and
// decoder cells plus the gated skip that joins the recurrent outputs with
// the selected inputs. Every layer's initial state is seeded from the
// static contexts; decoder layer l resumes from encoder layer l's final
// state.
type sequenceEncoderDecoder struct {
	layers int
	dim    int

	enc  []*lstmCell
	dec  []*lstmCell
	gate *gateAddNorm
}

func newSequenceEncoderDecoder(in *initializer, dim, layers int, dropout float64) *sequenceEncoderDecoder {
	s := &sequenceEncoderDecoder{
		layers: layers,
		dim:    dim,
		gate:   newGateAddNorm(in, "seq.skip", dim, dropout),
	}
	for l := 0; l < layers; l++ {
		s.enc = append(s.enc, newLSTMCell(in, fmt.Sprintf("seq.enc%d", l), dim, dim))
		s.dec = append(s.dec, newLSTMCell(in, fmt.Sprintf("seq.dec%d", l), dim, dim))
	}
	return s
}

type seqCache struct {
	k        int
	encSteps [][]*lstmStepCache
	decSteps [][]*lstmStepCache
	gan      *gateAddNormCache
}

// ForwardWithCache consumes the selected past (k×dim) and future (τ×dim)
// sequences and returns the temporal feature sequence ((k+τ)×dim).
func (s *sequenceEncoderDecoder) ForwardWithCache(past, future *mat.Dense, ctx *staticContexts, rng *rand.Rand) (*mat.Dense, *seqCache) {
	k, _ := past.Dims()
	cache := &seqCache{
		k:        k,
		encSteps: make([][]*lstmStepCache, s.layers),
		decSteps: make([][]*lstmStepCache, s.layers),
	}

	encIn, decIn := past, future
	for l := 0; l < s.layers; l++ {
		encOut, hFin, cFin, encSteps := runLSTM(s.enc[l], encIn, ctx.hidden, ctx.cell)
		decOut, _, _, decSteps := runLSTM(s.dec[l], decIn, hFin, cFin)
		cache.encSteps[l] = encSteps
		cache.decSteps[l] = decSteps
		encIn, decIn = encOut, decOut
	}

	out, gan := s.gate.ForwardWithCache(concatRows(encIn, decIn), concatRows(past, future), rng)
	cache.gan = gan
	return out, cache
}

// Backward returns gradients for the past and future input sequences and
// for the static context rows that seeded the recurrence.
func (s *sequenceEncoderDecoder) Backward(cache *seqCache, gradY *mat.Dense) (gradPast, gradFuture, gradCtxH, gradCtxC *mat.Dense) {
	gradLSTMOut, gradSkip := s.gate.Backward(cache.gan, gradY)
	gradEncOut, gradDecOut := splitRows(gradLSTMOut, cache.k)
	gradPast, gradFuture = splitRows(gradSkip, cache.k)

	gradCtxH = mat.NewDense(1, s.dim, nil)
	gradCtxC = mat.NewDense(1, s.dim, nil)

	for l := s.layers - 1; l >= 0; l-- {
		gradDecIn, gradDecH0, gradDecC0 := runLSTMBackward(s.dec[l], cache.decSteps[l], gradDecOut, nil, nil)
		// decoder initial state is encoder final state, so its gradient
		// feeds the encoder's last step
		gradEncIn, gradEncH0, gradEncC0 := runLSTMBackward(s.enc[l], cache.encSteps[l], gradEncOut, gradDecH0, gradDecC0)
		gradCtxH.Add(gradCtxH, gradEncH0)
		gradCtxC.Add(gradCtxC, gradEncC0)
		gradEncOut, gradDecOut = gradEncIn, gradDecIn
	}

	gradPast.Add(gradPast, gradEncOut)
	gradFuture.Add(gradFuture, gradDecOut)
	return gradPast, gradFuture, gradCtxH, gradCtxC
}

func (s *sequenceEncoderDecoder) params() []*Param {
	var ps []*Param
	for l := 0; l < s.layers; l++ {
		ps = append(ps, s.enc[l].params()...)
		ps = append(ps, s.dec[l].params()...)
	}
	return append(ps, s.gate.params()...)
}
