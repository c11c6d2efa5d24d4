package tft

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSineSeries(t *testing.T) {
	s := SineSeries(48, 24, 10, 0, 1)
	require.Len(t, s, 48)

	assert.InDelta(t, 0.0, s[0], 1e-12)
	assert.InDelta(t, 10.0, s[6], 1e-9, "quarter period hits the peak")
	assert.InDelta(t, 0.0, s[24], 1e-9, "full period returns to zero")
	assert.InDelta(t, -10.0, s[18], 1e-9)
}

func TestSineSeriesNoise(t *testing.T) {
	clean := SineSeries(100, 24, 1, 0, 7)
	noisy := SineSeries(100, 24, 1, 0.1, 7)

	diff := 0.0
	for i := range clean {
		diff += math.Abs(noisy[i] - clean[i])
	}
	assert.Greater(t, diff, 0.0)

	again := SineSeries(100, 24, 1, 0.1, 7)
	assert.Equal(t, noisy, again, "same seed, same noise")
}

func TestCycleCovariates(t *testing.T) {
	sin, cos := CycleCovariates(48, 24)
	require.Len(t, sin, 48)
	require.Len(t, cos, 48)

	for i := range sin {
		assert.InDelta(t, 1.0, sin[i]*sin[i]+cos[i]*cos[i], 1e-9, "position %d", i)
	}
	assert.InDelta(t, sin[0], sin[24], 1e-9, "the encoding repeats with the period")
	assert.InDelta(t, 1.0, cos[0], 1e-12)
}

func TestSineDataset(t *testing.T) {
	windows, fs := SineDataset(60, 6, 3, 1, 12, 2, 0, 1)

	require.NoError(t, fs.Validate(8))
	require.NotEmpty(t, windows)
	require.NoError(t, ValidateBatch(windows, fs, 6, 3))

	for _, w := range windows {
		require.NotNil(t, w.FutureTarget, "training windows carry supervision")
	}
}
