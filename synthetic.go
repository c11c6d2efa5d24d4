package tft

import (
	"math"

	"golang.org/x/exp/rand"
)

// Synthetic series for demos and convergence checks. Real pipelines feed
// the model aligned windows from actual data; these generators produce
// the same shapes from closed-form signals so behavior can be verified
// against known ground truth.

// SineSeries returns n samples of amplitude·sin(2π·t/period) plus
// Gaussian noise of the given standard deviation (0 for a clean signal).
func SineSeries(n int, period, amplitude, noise float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(uint64(seed)))
	out := make([]float64, n)
	for t := range out {
		out[t] = amplitude * math.Sin(2*math.Pi*float64(t)/period)
		if noise > 0 {
			out[t] += rng.NormFloat64() * noise
		}
	}
	return out
}

// CycleCovariates returns sin/cos encodings of position within a period.
// They are deterministic functions of the timestep, which makes them
// valid known-future covariates: the model can read "where in the cycle
// am I" directly instead of inferring it from history.
func CycleCovariates(n int, period float64) (sin, cos []float64) {
	sin = make([]float64, n)
	cos = make([]float64, n)
	for t := 0; t < n; t++ {
		phase := 2 * math.Pi * float64(t) / period
		sin[t] = math.Sin(phase)
		cos[t] = math.Cos(phase)
	}
	return sin, cos
}

// SineDataset slices a sine wave into training windows with cycle
// covariates attached, returning the windows and the matching schema.
func SineDataset(n, k, tau, stride int, period, amplitude, noise float64, seed int64) ([]*TimeWindow, FeatureSet) {
	target := SineSeries(n, period, amplitude, noise, seed)
	sin, cos := CycleCovariates(n, period)

	known := map[string][]float64{
		"cycle_sin": sin,
		"cycle_cos": cos,
	}
	fs := FeatureSet{
		Known: []VariableSpec{
			{Name: "cycle_sin", Kind: Continuous},
			{Name: "cycle_cos", Kind: Continuous},
		},
	}
	return SliceWindows(target, nil, known, nil, k, tau, stride), fs
}
