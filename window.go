package tft

// TimeWindow is one aligned, gap-free slice of a series: exactly k past
// steps and tau future steps. Construction and alignment (resampling,
// deduplication, gap filling) happen upstream; the model consumes windows
// read-only and validates shape, never content.
//
// Categorical values travel as float64 holding an integral index; the
// validator checks integrality and range against the declared cardinality.
type TimeWindow struct {
	// PastTarget holds y(t-k+1 .. t), length k.
	PastTarget []float64

	// FutureTarget holds y(t+1 .. t+tau), length tau. Required for
	// training, optional (nil) for inference.
	FutureTarget []float64

	// Observed covariates, one series of length k per declared variable.
	Observed map[string][]float64

	// Known covariates, one series of length k+tau per declared variable:
	// the past portion feeds the encoder, the future portion the decoder.
	Known map[string][]float64

	// Static features, one value per declared variable.
	Static map[string]float64
}

// Validate checks a window against the schema and window geometry.
// Everything reported here is a validation error: the data does not match
// what the model was configured for.
func (w *TimeWindow) Validate(fs FeatureSet, k, tau int) error {
	if got := len(w.PastTarget); got != k {
		return validationErrorf("past target has %d steps, window requires %d", got, k)
	}
	if w.FutureTarget != nil {
		if got := len(w.FutureTarget); got != tau {
			return validationErrorf("future target has %d steps, window requires %d", got, tau)
		}
	}

	for _, v := range fs.Observed {
		series, ok := w.Observed[v.Name]
		if !ok {
			return validationErrorf("observed variable %q declared but missing from window", v.Name)
		}
		if got := len(series); got != k {
			return validationErrorf("observed variable %q has %d steps, window requires %d", v.Name, got, k)
		}
		if err := checkCategorical(v, series); err != nil {
			return err
		}
	}
	for name := range w.Observed {
		if !hasVariable(fs.Observed, name) {
			return validationErrorf("window carries observed variable %q absent from the declared feature set", name)
		}
	}

	for _, v := range fs.Known {
		series, ok := w.Known[v.Name]
		if !ok {
			return validationErrorf("known variable %q declared but missing from window", v.Name)
		}
		if got := len(series); got != k+tau {
			return validationErrorf("known variable %q has %d steps, window requires %d", v.Name, got, k+tau)
		}
		if err := checkCategorical(v, series); err != nil {
			return err
		}
	}
	for name := range w.Known {
		if !hasVariable(fs.Known, name) {
			return validationErrorf("window carries known variable %q absent from the declared feature set", name)
		}
	}

	for _, v := range fs.Static {
		val, ok := w.Static[v.Name]
		if !ok {
			return validationErrorf("static variable %q declared but missing from window", v.Name)
		}
		if err := checkCategorical(v, []float64{val}); err != nil {
			return err
		}
	}
	for name := range w.Static {
		if !hasVariable(fs.Static, name) {
			return validationErrorf("window carries static variable %q absent from the declared feature set", name)
		}
	}

	return nil
}

// ValidateBatch validates every window of a batch and the batch itself.
func ValidateBatch(batch []*TimeWindow, fs FeatureSet, k, tau int) error {
	if len(batch) == 0 {
		return validationErrorf("empty batch")
	}
	for i, w := range batch {
		if w == nil {
			return validationErrorf("window %d is nil", i)
		}
		if err := w.Validate(fs, k, tau); err != nil {
			return err
		}
	}
	return nil
}

func hasVariable(specs []VariableSpec, name string) bool {
	for _, v := range specs {
		if v.Name == name {
			return true
		}
	}
	return false
}

func checkCategorical(v VariableSpec, series []float64) error {
	if v.Kind != Categorical {
		return nil
	}
	for _, val := range series {
		idx := int(val)
		if float64(idx) != val || idx < 0 || idx >= v.Cardinality {
			return validationErrorf("categorical variable %q has value %g outside [0, %d)",
				v.Name, val, v.Cardinality)
		}
	}
	return nil
}

// SplitWindows separates windows into a training set and a validation
// set, keeping order: the last valFraction of windows becomes validation.
// The split is chronological because overlapping windows share timesteps;
// a random split would leak validation values into training.
func SplitWindows(windows []*TimeWindow, valFraction float64) (train, val []*TimeWindow) {
	if valFraction <= 0 || len(windows) == 0 {
		return windows, nil
	}
	if valFraction >= 1 {
		return nil, windows
	}
	cut := len(windows) - int(float64(len(windows))*valFraction)
	if cut == len(windows) {
		return windows, nil
	}
	return windows[:cut], windows[cut:]
}

// SliceWindows cuts already-aligned series into overlapping training
// windows with the given stride. target must cover every timestep; each
// covariate series must be at least as long as target (known covariates
// must extend tau steps beyond the last window's anchor, which holds
// whenever they have target's length and the final anchor leaves room).
// Static values are shared by every produced window.
func SliceWindows(target []float64, observed, known map[string][]float64, static map[string]float64, k, tau, stride int) []*TimeWindow {
	if stride <= 0 {
		stride = 1
	}
	n := len(target)
	var out []*TimeWindow
	for anchor := k; anchor+tau <= n; anchor += stride {
		w := &TimeWindow{
			PastTarget:   target[anchor-k : anchor],
			FutureTarget: target[anchor : anchor+tau],
			Observed:     make(map[string][]float64, len(observed)),
			Known:        make(map[string][]float64, len(known)),
			Static:       static,
		}
		for name, series := range observed {
			w.Observed[name] = series[anchor-k : anchor]
		}
		for name, series := range known {
			w.Known[name] = series[anchor-k : anchor+tau]
		}
		out = append(out, w)
	}
	return out
}
