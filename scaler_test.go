package tft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func scalerFixture() (*Series, FeatureSet) {
	fs := FeatureSet{
		Observed: []VariableSpec{{Name: "temp", Kind: Continuous}},
		Known: []VariableSpec{
			{Name: "plan", Kind: Continuous},
			{Name: "hour", Kind: Categorical, Cardinality: 24},
		},
	}
	s := &Series{
		Target:   []float64{10, 20, 30, 40},
		Observed: map[string][]float64{"temp": {1, 2, 3, 4}},
		Known: map[string][]float64{
			// two future rows past the recorded target
			"plan": {100, 200, 300, 400, 500, 600},
			"hour": {0, 1, 2, 3, 4, 5},
		},
	}
	return s, fs
}

func TestScalerZScore(t *testing.T) {
	s, fs := scalerFixture()
	sc, err := NewScaler(ScaleZScore)
	require.NoError(t, err)
	require.NoError(t, sc.Fit(s, fs))
	sc.Apply(s)

	assert.InDelta(t, 0, stat.Mean(s.Target, nil), 1e-12)
	assert.InDelta(t, 1, stat.StdDev(s.Target, nil), 1e-12)
	// known columns are fitted over their future rows too
	assert.InDelta(t, 0, stat.Mean(s.Known["plan"], nil), 1e-12)
	assert.InDelta(t, 1, stat.StdDev(s.Known["plan"], nil), 1e-12)
}

func TestScalerMinMax(t *testing.T) {
	s, fs := scalerFixture()
	sc, err := NewScaler(ScaleMinMax)
	require.NoError(t, err)
	require.NoError(t, sc.Fit(s, fs))
	sc.Apply(s)

	assert.Equal(t, 0.0, s.Target[0])
	assert.Equal(t, 1.0, s.Target[len(s.Target)-1])
	for _, v := range s.Observed["temp"] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestScalerSkipsCategoricals(t *testing.T) {
	s, fs := scalerFixture()
	sc, err := NewScaler(ScaleZScore)
	require.NoError(t, err)
	require.NoError(t, sc.Fit(s, fs))
	sc.Apply(s)

	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, s.Known["hour"],
		"category codes must stay valid embedding indices")
	_, fitted := sc.Center["hour"]
	assert.False(t, fitted)
}

func TestScalerConstantColumn(t *testing.T) {
	fs := FeatureSet{Known: []VariableSpec{{Name: "flat", Kind: Continuous}}}
	s := &Series{
		Target: []float64{5, 5, 5},
		Known:  map[string][]float64{"flat": {7, 7, 7}},
	}
	sc, err := NewScaler(ScaleZScore)
	require.NoError(t, err)
	require.NoError(t, sc.Fit(s, fs))
	sc.Apply(s)

	// no spread: centered but not divided, never NaN
	assert.Equal(t, []float64{0, 0, 0}, s.Target)
	assert.Equal(t, []float64{0, 0, 0}, s.Known["flat"])
}

func TestScalerInverseTarget(t *testing.T) {
	s, fs := scalerFixture()
	raw := append([]float64(nil), s.Target...)
	sc, err := NewScaler(ScaleZScore)
	require.NoError(t, err)
	require.NoError(t, sc.Fit(s, fs))
	sc.Apply(s)

	// a "forecast" that echoes the scaled target must invert to the raw one
	f := &Forecast{
		Quantiles: []float64{0.5},
		Values:    mat.NewDense(len(s.Target), 1, append([]float64(nil), s.Target...)),
	}
	sc.InverseTarget(f)
	for i, want := range raw {
		assert.InDelta(t, want, f.Values.At(i, 0), 1e-9)
	}
}

func TestScalerInverseTargetPreservesOrdering(t *testing.T) {
	sc, err := NewScaler(ScaleZScore)
	require.NoError(t, err)
	sc.Center[TargetName] = 100
	sc.Scale[TargetName] = 7

	f := &Forecast{
		Quantiles: []float64{0.1, 0.5, 0.9},
		Values:    mat.NewDense(1, 3, []float64{-1, 0, 1}),
	}
	sc.InverseTarget(f)
	assert.Equal(t, 0, f.CrossingCount())
	assert.InDelta(t, 93, f.Values.At(0, 0), 1e-12)
	assert.InDelta(t, 100, f.Values.At(0, 1), 1e-12)
	assert.InDelta(t, 107, f.Values.At(0, 2), 1e-12)
}

func TestScalerFitRejectsEmptySeries(t *testing.T) {
	sc, err := NewScaler(ScaleZScore)
	require.NoError(t, err)
	err = sc.Fit(&Series{}, FeatureSet{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestNewScalerRejectsUnknownMethod(t *testing.T) {
	_, err := NewScaler("robust")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}
