package tft

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scaling methods. ZScore centers each column on its mean and divides by
// its standard deviation; MinMax maps the observed range onto [0, 1].
const (
	ScaleZScore = "zscore"
	ScaleMinMax = "minmax"
)

// Scaler rescales the target and the continuous covariates of a series
// before training and maps forecasts back afterwards. Gradient descent on
// raw physical units (megawatts, counts, prices) conditions poorly, and a
// model trained on scaled inputs silently produces garbage when fed raw
// ones — so the fitted scaler travels inside the checkpoint and inference
// applies the exact statistics training used.
//
// Categorical variables pass through untouched: category codes are
// embedding indices, not magnitudes. Static values pass through too; their
// embeddings absorb the scale.
type Scaler struct {
	Method string             `json:"method"`
	Center map[string]float64 `json:"center"`
	Scale  map[string]float64 `json:"scale"`
}

// NewScaler returns an unfitted scaler. The zero Scaler is not usable.
func NewScaler(method string) (*Scaler, error) {
	switch method {
	case ScaleZScore, ScaleMinMax:
	default:
		return nil, configErrorf("unknown normalization %q (want %q or %q)",
			method, ScaleZScore, ScaleMinMax)
	}
	return &Scaler{
		Method: method,
		Center: make(map[string]float64),
		Scale:  make(map[string]float64),
	}, nil
}

// Fit computes per-column statistics: the target plus every continuous
// observed and known covariate the schema declares. Known columns
// contribute their future rows too — those values are known by definition,
// so nothing leaks from the future.
func (sc *Scaler) Fit(s *Series, fs FeatureSet) error {
	if s == nil || len(s.Target) == 0 {
		return validationErrorf("cannot fit a scaler on an empty series")
	}
	sc.fitColumn(TargetName, s.Target)
	for _, v := range fs.Observed {
		if v.Kind == Continuous {
			sc.fitColumn(v.Name, s.Observed[v.Name])
		}
	}
	for _, v := range fs.Known {
		if v.Kind == Continuous {
			sc.fitColumn(v.Name, s.Known[v.Name])
		}
	}
	return nil
}

func (sc *Scaler) fitColumn(name string, xs []float64) {
	if len(xs) == 0 {
		return
	}
	var center, scale float64
	switch sc.Method {
	case ScaleMinMax:
		center = floats.Min(xs)
		scale = floats.Max(xs) - center
	default:
		center = stat.Mean(xs, nil)
		scale = stat.StdDev(xs, nil)
	}
	// A constant (or single-value) column has no spread: center it and
	// leave the magnitude alone rather than dividing by zero.
	if scale == 0 || math.IsNaN(scale) {
		scale = 1
	}
	sc.Center[name] = center
	sc.Scale[name] = scale
}

// Apply rescales the series in place. Columns the scaler never fit —
// categoricals, extras the schema does not declare — stay as they are.
func (sc *Scaler) Apply(s *Series) {
	for name, center := range sc.Center {
		scale := sc.Scale[name]
		if name == TargetName {
			scaleColumn(s.Target, center, scale)
			continue
		}
		if xs, ok := s.Observed[name]; ok {
			scaleColumn(xs, center, scale)
		}
		if xs, ok := s.Known[name]; ok {
			scaleColumn(xs, center, scale)
		}
	}
}

func scaleColumn(xs []float64, center, scale float64) {
	for i, v := range xs {
		xs[i] = (v - center) / scale
	}
}

// InverseTarget maps a forecast's values back into the target's original
// units. Selection and attention weights are unit-free and stay as they
// are. The map is affine with a positive scale, so quantile ordering is
// preserved either way.
func (sc *Scaler) InverseTarget(f *Forecast) {
	center, ok := sc.Center[TargetName]
	if !ok {
		return
	}
	scale := sc.Scale[TargetName]
	rows, cols := f.Values.Dims()
	for t := 0; t < rows; t++ {
		for i := 0; i < cols; i++ {
			f.Values.Set(t, i, f.Values.At(t, i)*scale+center)
		}
	}
}
