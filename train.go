package tft

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The training loop: mini-batch gradient descent over forecast windows
// with the pinball loss as the objective.
//
// INTENTION:
// Keep the mechanics visible. One step is:
//
//	1. zero gradients
//	2. for each window in the batch: forward, loss, backward
//	   (loss gradients arrive pre-scaled by 1/batch, so accumulating
//	   across the batch averages instead of summing)
//	3. clip the global gradient norm
//	4. optimizer step at the scheduled learning rate
//
// Windows inside a batch are processed sequentially: gradients accumulate
// into shared parameter buffers, and only one writer may touch those.
// Parallelism belongs to inference (see Model.Predict), where parameters
// are frozen.
//
// Divergence is a first-class failure. A NaN or infinite loss or gradient
// aborts the run with the offending batch and loss attached, instead of
// letting corrupted parameters keep training. Cancellation is handled at
// batch granularity: an in-flight batch always completes, so parameters
// are never left mid-update.
//
// The learning rate follows linear warmup then cosine decay to a floor.
// Both SGD and Adam are available; Adam is the default because its
// per-parameter step sizes absorb the scale differences between, say,
// LSTM gate biases and attention projections.
//
// RECOMMENDED READING:
// - "Adam: A Method for Stochastic Optimization" by Kingma & Ba (2014)
//   https://arxiv.org/abs/1412.6980
// - "SGDR: Stochastic Gradient Descent with Warm Restarts" (cosine decay)
//   https://arxiv.org/abs/1608.03983
// ===========================================================================

// TrainingConfig holds the optimization hyperparameters.
type TrainingConfig struct {
	LearningRate      float64 `json:"learning_rate" mapstructure:"learning_rate"`
	WeightDecay       float64 `json:"weight_decay" mapstructure:"weight_decay"`
	GradientClipValue float64 `json:"gradient_clip_value" mapstructure:"gradient_clip_value"` // 0 disables clipping

	BatchSize int `json:"batch_size" mapstructure:"batch_size"`
	NumEpochs int `json:"num_epochs" mapstructure:"num_epochs"`
	MaxSteps  int `json:"max_steps" mapstructure:"max_steps"` // 0 means no step limit

	// Learning rate schedule: linear warmup to LearningRate over
	// WarmupSteps, cosine decay to MinLR by DecaySteps, then constant.
	WarmupSteps int     `json:"warmup_steps" mapstructure:"warmup_steps"`
	DecaySteps  int     `json:"decay_steps" mapstructure:"decay_steps"`
	MinLR       float64 `json:"min_lr" mapstructure:"min_lr"`

	Optimizer   string  `json:"optimizer" mapstructure:"optimizer"` // "adam" or "sgd"
	AdamBeta1   float64 `json:"adam_beta1" mapstructure:"adam_beta1"`
	AdamBeta2   float64 `json:"adam_beta2" mapstructure:"adam_beta2"`
	AdamEpsilon float64 `json:"adam_epsilon" mapstructure:"adam_epsilon"`

	LogInterval  int `json:"log_interval" mapstructure:"log_interval"`   // steps between progress logs, 0 silences
	EvalInterval int `json:"eval_interval" mapstructure:"eval_interval"` // steps between validation passes, 0 disables

	Seed int64 `json:"seed" mapstructure:"seed"` // shuffle and dropout randomness
}

// DefaultTrainingConfig returns working defaults for small datasets.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate:      1e-3,
		WeightDecay:       0,
		GradientClipValue: 1.0,

		BatchSize: 32,
		NumEpochs: 10,
		MaxSteps:  0,

		WarmupSteps: 100,
		DecaySteps:  10000,
		MinLR:       1e-5,

		Optimizer:   "adam",
		AdamBeta1:   0.9,
		AdamBeta2:   0.999,
		AdamEpsilon: 1e-8,

		LogInterval:  50,
		EvalInterval: 0,

		Seed: 1,
	}
}

// Validate rejects unusable hyperparameters before any training starts.
func (c TrainingConfig) Validate() error {
	if c.LearningRate <= 0 {
		return configErrorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return configErrorf("weight decay must be non-negative, got %g", c.WeightDecay)
	}
	if c.GradientClipValue < 0 {
		return configErrorf("gradient clip value must be non-negative, got %g", c.GradientClipValue)
	}
	if c.BatchSize < 1 {
		return configErrorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.NumEpochs < 1 {
		return configErrorf("num epochs must be at least 1, got %d", c.NumEpochs)
	}
	if c.MaxSteps < 0 || c.WarmupSteps < 0 || c.DecaySteps < 0 {
		return configErrorf("step counts must be non-negative")
	}
	if c.MinLR < 0 || c.MinLR > c.LearningRate {
		return configErrorf("min learning rate %g must lie in [0, learning rate]", c.MinLR)
	}
	switch c.Optimizer {
	case "adam":
		if c.AdamBeta1 < 0 || c.AdamBeta1 >= 1 || c.AdamBeta2 < 0 || c.AdamBeta2 >= 1 {
			return configErrorf("adam betas must lie in [0, 1)")
		}
		if c.AdamEpsilon <= 0 {
			return configErrorf("adam epsilon must be positive, got %g", c.AdamEpsilon)
		}
	case "sgd":
	default:
		return configErrorf("unknown optimizer %q (want \"adam\" or \"sgd\")", c.Optimizer)
	}
	if c.LogInterval < 0 || c.EvalInterval < 0 {
		return configErrorf("log and eval intervals must be non-negative")
	}
	return nil
}

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*Param, lr float64)
	ZeroGrad(params []*Param)
}

// SGDOptimizer is plain stochastic gradient descent with optional L2
// weight decay.
type SGDOptimizer struct {
	weightDecay float64
}

func NewSGDOptimizer(weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{weightDecay: weightDecay}
}

// Step applies param -= lr · (grad + weightDecay · param).
func (opt *SGDOptimizer) Step(params []*Param, lr float64) {
	for _, p := range params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		for i := range w {
			w[i] -= lr * (g[i] + opt.weightDecay*w[i])
		}
	}
}

func (opt *SGDOptimizer) ZeroGrad(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// AdamOptimizer keeps exponential moving averages of gradients (first
// moment) and squared gradients (second moment), with bias correction for
// the zero initialization:
//
//	m ← β₁·m + (1−β₁)·g        m̂ = m / (1−β₁ᵗ)
//	v ← β₂·v + (1−β₂)·g²       v̂ = v / (1−β₂ᵗ)
//	param -= lr · m̂ / (√v̂ + ε)
type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	m [][]float64 // first moment, aligned with params
	v [][]float64 // second moment
	t int
}

func NewAdamOptimizer(params []*Param, beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, p.Size())
		v[i] = make([]float64, p.Size())
	}
	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

func (opt *AdamOptimizer) Step(params []*Param, lr float64) {
	opt.t++
	bias1 := 1 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, v := opt.m[i], opt.v[i]
		for j := range w {
			grad := g[j] + opt.weightDecay*w[j]
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad
			mHat := m[j] / bias1
			vHat := v[j] / bias2
			w[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

func (opt *AdamOptimizer) ZeroGrad(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// LRScheduler produces the per-step learning rate: linear warmup, cosine
// decay, constant floor.
type LRScheduler struct {
	baseLR      float64
	minLR       float64
	warmupSteps int
	decaySteps  int
	step        int
}

func NewLRScheduler(baseLR, minLR float64, warmupSteps, decaySteps int) *LRScheduler {
	return &LRScheduler{
		baseLR:      baseLR,
		minLR:       minLR,
		warmupSteps: warmupSteps,
		decaySteps:  decaySteps,
	}
}

// GetLR advances the schedule by one step and returns the rate for it.
func (sched *LRScheduler) GetLR() float64 {
	sched.step++

	if sched.step < sched.warmupSteps {
		return sched.baseLR * float64(sched.step) / float64(sched.warmupSteps)
	}
	// decaySteps at or below warmup means "no decay": hold the base rate
	if sched.decaySteps <= sched.warmupSteps {
		return sched.baseLR
	}
	if sched.step < sched.decaySteps {
		progress := float64(sched.step-sched.warmupSteps) / float64(sched.decaySteps-sched.warmupSteps)
		cosine := 0.5 * (1 + math.Cos(math.Pi*progress))
		return sched.minLR + (sched.baseLR-sched.minLR)*cosine
	}
	return sched.minLR
}

// clipGradients rescales all gradients so their global L2 norm does not
// exceed maxNorm, and returns the pre-clip norm. maxNorm ≤ 0 measures
// without clipping.
func clipGradients(params []*Param, maxNorm float64) float64 {
	sumSq := 0.0
	for _, p := range params {
		for _, g := range p.Grad.RawMatrix().Data {
			sumSq += g * g
		}
	}
	norm := math.Sqrt(sumSq)

	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			g := p.Grad.RawMatrix().Data
			for i := range g {
				g[i] *= scale
			}
		}
	}
	return norm
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ValPoint is one validation measurement.
type ValPoint struct {
	Step int     `json:"step"`
	Loss float64 `json:"loss"`
}

// History records per-step training metrics for one run.
type History struct {
	RunID    string     `json:"run_id"`
	Loss     []float64  `json:"loss"`
	LR       []float64  `json:"lr"`
	GradNorm []float64  `json:"grad_norm"`
	Val      []ValPoint `json:"val,omitempty"`
}

func (h *History) record(loss, lr, norm float64) {
	h.Loss = append(h.Loss, loss)
	h.LR = append(h.LR, lr)
	h.GradNorm = append(h.GradNorm, norm)
}

// Steps returns the number of optimizer steps taken.
func (h *History) Steps() int { return len(h.Loss) }

// FinalLoss returns the last recorded training loss, NaN before any step.
func (h *History) FinalLoss() float64 {
	if len(h.Loss) == 0 {
		return math.NaN()
	}
	return h.Loss[len(h.Loss)-1]
}

// Trainer drives mini-batch optimization of one model. It owns the
// model's parameters for the duration of a Fit call: no concurrent
// Predict or second Fit may run against the same model while Fit is in
// flight.
type Trainer struct {
	model *Model
	cfg   TrainingConfig
	opt   Optimizer
	sched *LRScheduler
	rng   *rand.Rand
	log   *zap.Logger
	hist  *History
	step  int
}

// NewTrainer validates the configuration and prepares optimizer state.
// A nil logger disables logging.
func NewTrainer(model *Model, cfg TrainingConfig, logger *zap.Logger) (*Trainer, error) {
	if model == nil {
		return nil, configErrorf("nil model")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opt Optimizer
	switch cfg.Optimizer {
	case "adam":
		opt = NewAdamOptimizer(model.Parameters(), cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEpsilon, cfg.WeightDecay)
	case "sgd":
		opt = NewSGDOptimizer(cfg.WeightDecay)
	}

	runID := uuid.NewString()
	return &Trainer{
		model: model,
		cfg:   cfg,
		opt:   opt,
		sched: NewLRScheduler(cfg.LearningRate, cfg.MinLR, cfg.WarmupSteps, cfg.DecaySteps),
		rng:   rand.New(rand.NewSource(uint64(cfg.Seed))),
		log:   logger.With(zap.String("run_id", runID)),
		hist:  &History{RunID: runID},
	}, nil
}

// History returns the metrics recorded so far.
func (t *Trainer) History() *History { return t.hist }

// requireTargets rejects windows that cannot be scored.
func requireTargets(windows []*TimeWindow, role string) error {
	for i, w := range windows {
		if w.FutureTarget == nil {
			return validationErrorf("%s window %d has no future target", role, i)
		}
	}
	return nil
}

// Fit trains for the configured epochs, or until MaxSteps, whichever ends
// first. Cancelling ctx stops the run at the next batch boundary — the
// in-flight batch always completes, so parameters are never torn. The
// returned History is valid even when err is non-nil.
func (t *Trainer) Fit(ctx context.Context, train, val []*TimeWindow) (*History, error) {
	k, tau := t.model.cfg.InputChunkLength, t.model.cfg.OutputChunkLength
	if err := ValidateBatch(train, t.model.fs, k, tau); err != nil {
		return t.hist, err
	}
	if err := requireTargets(train, "training"); err != nil {
		return t.hist, err
	}
	if len(val) > 0 {
		if err := ValidateBatch(val, t.model.fs, k, tau); err != nil {
			return t.hist, err
		}
		if err := requireTargets(val, "validation"); err != nil {
			return t.hist, err
		}
	}

	t.log.Info("training started",
		zap.Int("windows", len(train)),
		zap.Int("validation_windows", len(val)),
		zap.Int("batch_size", t.cfg.BatchSize),
		zap.Int("epochs", t.cfg.NumEpochs),
		zap.String("optimizer", t.cfg.Optimizer),
		zap.Float64("learning_rate", t.cfg.LearningRate),
		zap.Int("parameters", t.model.NumParameters()),
	)

	shuffled := make([]*TimeWindow, len(train))
	copy(shuffled, train)

	for epoch := 0; epoch < t.cfg.NumEpochs; epoch++ {
		t.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for start := 0; start < len(shuffled); start += t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				t.log.Warn("training cancelled", zap.Int("step", t.step))
				return t.hist, err
			}

			end := min(start+t.cfg.BatchSize, len(shuffled))
			lr := t.sched.GetLR()

			loss, norm, err := t.trainStep(shuffled[start:end], lr)
			if err != nil {
				return t.hist, errors.Wrapf(err, "epoch %d batch %d", epoch, start/t.cfg.BatchSize)
			}
			t.step++
			t.hist.record(loss, lr, norm)

			if t.cfg.LogInterval > 0 && t.step%t.cfg.LogInterval == 0 {
				t.log.Info("step",
					zap.Int("step", t.step),
					zap.Float64("loss", loss),
					zap.Float64("lr", lr),
					zap.Float64("grad_norm", norm),
				)
			}
			if t.cfg.EvalInterval > 0 && t.step%t.cfg.EvalInterval == 0 && len(val) > 0 {
				valLoss, err := t.Evaluate(val)
				if err != nil {
					return t.hist, err
				}
				t.hist.Val = append(t.hist.Val, ValPoint{Step: t.step, Loss: valLoss})
				t.log.Info("validation", zap.Int("step", t.step), zap.Float64("val_loss", valLoss))
			}
			if t.cfg.MaxSteps > 0 && t.step >= t.cfg.MaxSteps {
				t.log.Info("reached max steps", zap.Int("steps", t.step))
				return t.hist, nil
			}
		}
	}

	t.log.Info("training complete",
		zap.Int("steps", t.step),
		zap.Float64("final_loss", t.hist.FinalLoss()),
	)
	return t.hist, nil
}

// trainStep runs forward/backward over one batch and applies the update.
func (t *Trainer) trainStep(batch []*TimeWindow, lr float64) (loss, gradNorm float64, err error) {
	params := t.model.Parameters()
	t.opt.ZeroGrad(params)

	quantiles := t.model.cfg.Quantiles
	invBatch := 1 / float64(len(batch))
	total := 0.0

	for i, w := range batch {
		forecast, cache := t.model.forward(w, t.rng)
		l := quantileLoss(forecast.Values, w.FutureTarget, quantiles)
		if !isFinite(l) {
			return l, 0, divergenceErrorf("non-finite loss %g on window %d of batch", l, i)
		}
		total += l

		grad := quantileLossBackward(forecast.Values, w.FutureTarget, quantiles)
		grad.Scale(invBatch, grad)
		t.model.backward(cache, grad)
	}
	loss = total * invBatch

	gradNorm = clipGradients(params, t.cfg.GradientClipValue)
	if !isFinite(gradNorm) {
		return loss, gradNorm, divergenceErrorf("non-finite gradient norm (loss %g)", loss)
	}

	t.opt.Step(params, lr)
	return loss, gradNorm, nil
}

// Evaluate scores windows with the inference path (no dropout) and
// returns the mean pinball loss. Quantile crossings in the evaluation
// forecasts are counted and logged, never corrected here.
func (t *Trainer) Evaluate(windows []*TimeWindow) (float64, error) {
	k, tau := t.model.cfg.InputChunkLength, t.model.cfg.OutputChunkLength
	if err := ValidateBatch(windows, t.model.fs, k, tau); err != nil {
		return 0, err
	}
	if err := requireTargets(windows, "evaluation"); err != nil {
		return 0, err
	}

	total := 0.0
	crossings := 0
	for _, w := range windows {
		forecast, _ := t.model.forward(w, nil)
		total += quantileLoss(forecast.Values, w.FutureTarget, t.model.cfg.Quantiles)
		crossings += forecast.CrossingCount()
	}
	if crossings > 0 {
		t.log.Warn("quantile crossings in evaluation forecasts",
			zap.Int("crossings", crossings),
			zap.Int("windows", len(windows)))
	}
	return total / float64(len(windows)), nil
}
