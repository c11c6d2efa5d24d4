package tft

import (
	"context"
	"runtime"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The full model, assembled. One window flows through eight stages:
//
//	static features ──► static VSN ──► static encoder ──► (c_s c_h c_c c_e)
//	                                                        │   │  │    │
//	past inputs  ──► embed ──► past VSN ◄──────── c_s ──────┘   │  │    │
//	future inputs ─► embed ──► future VSN ◄────── c_s           │  │    │
//	                    │            │                          │  │    │
//	                    ▼            ▼                          ▼  ▼    │
//	              LSTM encoder ─► LSTM decoder   (seeded by c_h, c_c)   │
//	                    └────┬───────┘                                  │
//	                  gate/add/norm  (skip: VSN outputs)                │
//	                         │ temporal features                       │
//	                         ▼                                          │
//	                  enrichment GRN ◄───────────── c_e ────────────────┘
//	                         ▼
//	                masked multi-head attention  (gate/add/norm)
//	                         ▼
//	                 position-wise GRN
//	                         ▼
//	                  gate/add/norm  (skip: temporal features)
//	                         ▼
//	                 linear head ─► τ×|Q| quantile forecasts
//
// Forward and backward are hand-written mirrors of each other. Every stage
// returns a cache of what its backward needs; backward consumes the caches
// in reverse order. Gradients for the four static context rows come back
// from four different places (both temporal VSNs, the recurrence seed, the
// enrichment GRN) and are folded into the static encoder's backward.
//
// Concurrency contract: Predict runs windows in parallel against frozen
// parameters and is safe for concurrent use. Training mutates parameters
// and must not overlap with anything else.
// ===========================================================================

// Model is a temporal fusion transformer for multi-horizon quantile
// forecasting. Construct with NewModel; the zero value is not usable.
type Model struct {
	cfg Config
	fs  FeatureSet

	staticEmb []*varEmbedding
	pastEmb   []*varEmbedding
	futureEmb []*varEmbedding

	staticVSN *variableSelectionNetwork // nil without static variables
	staticEnc *staticCovariateEncoder   // nil without static variables
	pastVSN   *variableSelectionNetwork
	futureVSN *variableSelectionNetwork

	seq       *sequenceEncoderDecoder
	enrich    *gatedResidualNetwork
	attn      *temporalSelfAttention
	ff        *gatedResidualNetwork
	finalGate *gateAddNorm
	head      *linear

	mask   *mat.Dense
	params []*Param

	scaler *Scaler // optional input scaler, travels with checkpoints
}

// NewModel validates the configuration and feature schema and builds a
// freshly initialized model. Initialization is deterministic in cfg.Seed.
func NewModel(cfg Config, fs FeatureSet) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := fs.Validate(cfg.HiddenSize); err != nil {
		return nil, err
	}

	in := newInitializer(uint64(cfg.Seed))
	d := cfg.HiddenSize
	drop := cfg.DropoutRate

	m := &Model{
		cfg:       cfg,
		fs:        fs,
		pastEmb:   newEmbeddings(in, "past", fs.pastSpecs(), d),
		futureEmb: newEmbeddings(in, "future", fs.Known, d),
		pastVSN:   newVSN(in, "vsn.past", fs.NumPast(), d, d, drop),
		futureVSN: newVSN(in, "vsn.future", fs.NumFuture(), d, d, drop),
		seq:       newSequenceEncoderDecoder(in, d, cfg.NumRecurrentLayers, drop),
		enrich:    newGRN(in, "enrich", d, d, d, d, drop),
		attn:      newTemporalSelfAttention(in, d, cfg.NumAttentionHeads, drop),
		ff:        newGRN(in, "ff", d, d, d, 0, drop),
		finalGate: newGateAddNorm(in, "final.skip", d, drop),
		head:      newLinear(in, "head", d, len(cfg.Quantiles), true),
		mask:      newCausalMask(cfg.InputChunkLength, cfg.OutputChunkLength),
	}
	if fs.NumStatic() > 0 {
		m.staticEmb = newEmbeddings(in, "static", fs.Static, d)
		m.staticVSN = newVSN(in, "vsn.static", fs.NumStatic(), d, 0, drop)
		m.staticEnc = newStaticEncoder(in, d, drop)
	}

	m.params = m.collectParams()
	return m, nil
}

// collectParams fixes the canonical parameter order used by the optimizer
// and the checkpoint format.
func (m *Model) collectParams() []*Param {
	var ps []*Param
	for _, e := range m.staticEmb {
		ps = append(ps, e.params()...)
	}
	if m.staticVSN != nil {
		ps = append(ps, m.staticVSN.params()...)
		ps = append(ps, m.staticEnc.params()...)
	}
	for _, e := range m.pastEmb {
		ps = append(ps, e.params()...)
	}
	ps = append(ps, m.pastVSN.params()...)
	for _, e := range m.futureEmb {
		ps = append(ps, e.params()...)
	}
	ps = append(ps, m.futureVSN.params()...)
	ps = append(ps, m.seq.params()...)
	ps = append(ps, m.enrich.params()...)
	ps = append(ps, m.attn.params()...)
	ps = append(ps, m.ff.params()...)
	ps = append(ps, m.finalGate.params()...)
	return append(ps, m.head.params()...)
}

// Config returns the model's configuration.
func (m *Model) Config() Config { return m.cfg }

// Features returns the model's feature schema.
func (m *Model) Features() FeatureSet { return m.fs }

// Parameters returns every learned parameter in canonical order. The
// slice and its entries are shared with the model, not copied.
func (m *Model) Parameters() []*Param { return m.params }

// SetScaler attaches the input scaler the training data was transformed
// with. Save persists it, so inference rescales inputs the same way.
func (m *Model) SetScaler(sc *Scaler) { m.scaler = sc }

// Scaler returns the attached input scaler, or nil when the model was
// trained on raw values.
func (m *Model) Scaler() *Scaler { return m.scaler }

// NumParameters returns the total scalar parameter count.
func (m *Model) NumParameters() int {
	n := 0
	for _, p := range m.params {
		n += p.Size()
	}
	return n
}

// pastSpecs lists the encoder-side variables in column order, with the
// implicit continuous target first.
func (fs FeatureSet) pastSpecs() []VariableSpec {
	specs := make([]VariableSpec, 0, fs.NumPast())
	specs = append(specs, VariableSpec{Name: TargetName, Kind: Continuous})
	specs = append(specs, fs.Observed...)
	specs = append(specs, fs.Known...)
	return specs
}

func (m *Model) pastColumns(w *TimeWindow) [][]float64 {
	k := m.cfg.InputChunkLength
	cols := make([][]float64, 0, m.fs.NumPast())
	cols = append(cols, w.PastTarget)
	for _, v := range m.fs.Observed {
		cols = append(cols, w.Observed[v.Name])
	}
	for _, v := range m.fs.Known {
		cols = append(cols, w.Known[v.Name][:k])
	}
	return cols
}

func (m *Model) futureColumns(w *TimeWindow) [][]float64 {
	k := m.cfg.InputChunkLength
	cols := make([][]float64, 0, m.fs.NumFuture())
	for _, v := range m.fs.Known {
		cols = append(cols, w.Known[v.Name][k:])
	}
	return cols
}

type forwardCache struct {
	staticEmb []*embCache
	pastEmb   []*embCache
	futureEmb []*embCache

	staticSel *vsnCache
	static    *staticEncoderCache
	ctx       *staticContexts

	pastSel   *vsnCache
	futureSel *vsnCache

	seq      *seqCache
	temporal *mat.Dense
	enrich   *grnCache
	attn     *attnCache
	ff       *grnCache
	final    *gateAddNormCache
	headIn   *mat.Dense
}

// forward runs one window through the model. A non-nil rng enables
// dropout (training); nil runs the deterministic inference path. The
// window must already be validated.
func (m *Model) forward(w *TimeWindow, rng *rand.Rand) (*Forecast, *forwardCache) {
	k, tau, d := m.cfg.InputChunkLength, m.cfg.OutputChunkLength, m.cfg.HiddenSize
	fc := &forwardCache{}

	var staticWeights *mat.Dense
	if m.staticVSN != nil {
		embs := make([]*mat.Dense, len(m.staticEmb))
		fc.staticEmb = make([]*embCache, len(m.staticEmb))
		for i, e := range m.staticEmb {
			embs[i], fc.staticEmb[i] = e.ForwardWithCache([]float64{w.Static[e.spec.Name]})
		}
		var sel *mat.Dense
		sel, staticWeights, fc.staticSel = m.staticVSN.ForwardWithCache(embs, nil, rng)
		fc.ctx, fc.static = m.staticEnc.ForwardWithCache(sel, rng)
	} else {
		fc.ctx = zeroStaticContexts(d)
	}

	pastEmbs := make([]*mat.Dense, m.fs.NumPast())
	fc.pastEmb = make([]*embCache, m.fs.NumPast())
	for i, col := range m.pastColumns(w) {
		pastEmbs[i], fc.pastEmb[i] = m.pastEmb[i].ForwardWithCache(col)
	}
	pastSeq, pastWeights, pastSel := m.pastVSN.ForwardWithCache(pastEmbs, fc.ctx.selection, rng)
	fc.pastSel = pastSel

	futureEmbs := make([]*mat.Dense, m.fs.NumFuture())
	fc.futureEmb = make([]*embCache, m.fs.NumFuture())
	for i, col := range m.futureColumns(w) {
		futureEmbs[i], fc.futureEmb[i] = m.futureEmb[i].ForwardWithCache(col)
	}
	futureSeq, futureWeights, futureSel := m.futureVSN.ForwardWithCache(futureEmbs, fc.ctx.selection, rng)
	fc.futureSel = futureSel

	temporal, seqC := m.seq.ForwardWithCache(pastSeq, futureSeq, fc.ctx, rng)
	fc.temporal = temporal
	fc.seq = seqC

	enriched, enrichC := m.enrich.ForwardWithCache(temporal, fc.ctx.enrichment, rng)
	fc.enrich = enrichC

	attnOut, attnWeights, attnC := m.attn.ForwardWithCache(enriched, m.mask, rng)
	fc.attn = attnC

	ffOut, ffC := m.ff.ForwardWithCache(attnOut, nil, rng)
	fc.ff = ffC

	decoded, finalC := m.finalGate.ForwardWithCache(ffOut, temporal, rng)
	fc.final = finalC

	fc.headIn = decoded.Slice(k, k+tau, 0, d).(*mat.Dense)
	values := m.head.Forward(fc.headIn)

	return &Forecast{
		Quantiles:     m.cfg.Quantiles,
		Values:        values,
		StaticWeights: staticWeights,
		PastWeights:   pastWeights,
		FutureWeights: futureWeights,
		Attention:     attnWeights,
	}, fc
}

// backward accumulates parameter gradients for one window given the loss
// gradient on the forecast values (τ×|Q|).
func (m *Model) backward(fc *forwardCache, gradPred *mat.Dense) {
	k, tau, d := m.cfg.InputChunkLength, m.cfg.OutputChunkLength, m.cfg.HiddenSize

	gradHeadIn := m.head.Backward(fc.headIn, gradPred)

	gradDecoded := mat.NewDense(k+tau, d, nil)
	for t := 0; t < tau; t++ {
		copy(gradDecoded.RawRowView(k+t), gradHeadIn.RawRowView(t))
	}

	gradFF, gradTemporalSkip := m.finalGate.Backward(fc.final, gradDecoded)
	gradAttnOut, _ := m.ff.Backward(fc.ff, gradFF)
	gradEnriched := m.attn.Backward(fc.attn, gradAttnOut)
	gradTemporal, gradCtxE := m.enrich.Backward(fc.enrich, gradEnriched)
	gradTemporal.Add(gradTemporal, gradTemporalSkip)

	gradPast, gradFuture, gradCtxH, gradCtxC := m.seq.Backward(fc.seq, gradTemporal)

	gradFutureInputs, gradCtxS2 := m.futureVSN.Backward(fc.futureSel, gradFuture)
	for i, e := range m.futureEmb {
		e.Backward(fc.futureEmb[i], gradFutureInputs[i])
	}

	gradPastInputs, gradCtxS1 := m.pastVSN.Backward(fc.pastSel, gradPast)
	for i, e := range m.pastEmb {
		e.Backward(fc.pastEmb[i], gradPastInputs[i])
	}

	if m.staticVSN == nil {
		// contexts were constants; their gradients stop here
		return
	}
	gradSel := m.staticEnc.Backward(fc.static, &staticContexts{
		selection:  add(gradCtxS1, gradCtxS2),
		hidden:     gradCtxH,
		cell:       gradCtxC,
		enrichment: gradCtxE,
	})
	gradStaticInputs, _ := m.staticVSN.Backward(fc.staticSel, gradSel)
	for i, e := range m.staticEmb {
		e.Backward(fc.staticEmb[i], gradStaticInputs[i])
	}
}

// Forecast runs a single validated window through the inference path.
func (m *Model) Forecast(w *TimeWindow) (*Forecast, error) {
	if w == nil {
		return nil, validationErrorf("nil window")
	}
	if err := w.Validate(m.fs, m.cfg.InputChunkLength, m.cfg.OutputChunkLength); err != nil {
		return nil, err
	}
	f, _ := m.forward(w, nil)
	if m.cfg.ClipQuantileCrossing {
		f.ClipCrossings()
	}
	return f, nil
}

// Predict forecasts a batch of windows in parallel. Parameters are
// read-only during prediction, so windows fan out across GOMAXPROCS
// goroutines; results keep input order. Cancelling ctx abandons windows
// that have not started.
func (m *Model) Predict(ctx context.Context, windows []*TimeWindow) ([]*Forecast, error) {
	if err := ValidateBatch(windows, m.fs, m.cfg.InputChunkLength, m.cfg.OutputChunkLength); err != nil {
		return nil, err
	}

	out := make([]*Forecast, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, _ := m.forward(w, nil)
			if m.cfg.ClipQuantileCrossing {
				f.ClipCrossings()
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
