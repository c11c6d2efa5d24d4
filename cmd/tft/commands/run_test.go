package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/tft"
)

func TestLoadRunFileDefaults(t *testing.T) {
	run, err := loadRunFile("")
	require.NoError(t, err)

	assert.Equal(t, tft.DefaultConfig(), run.Model)
	assert.Equal(t, tft.DefaultTrainingConfig(), run.Training)
	assert.Equal(t, tft.TargetName, run.Data.TargetColumn)
	assert.Equal(t, 1, run.Data.Stride)
	assert.Equal(t, 0.2, run.Data.ValidationSplit)
	assert.Empty(t, run.Data.Normalization, "default is to train on raw values")
}

func TestLoadRunFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[model]
input_chunk_length = 48
output_chunk_length = 12
quantiles = [0.05, 0.5, 0.95]

[training]
learning_rate = 0.005
batch_size = 4

[data]
target_column = "load_mw"
stride = 2
normalization = "zscore"

[[data.known]]
name = "hour_sin"

[[data.known]]
name = "day_of_week"
categorical = true
cardinality = 7

[[data.static]]
name = "region"
categorical = true
cardinality = 4
value = 2.0
`), 0o644))

	run, err := loadRunFile(path)
	require.NoError(t, err)

	// overridden keys
	assert.Equal(t, 48, run.Model.InputChunkLength)
	assert.Equal(t, 12, run.Model.OutputChunkLength)
	assert.Equal(t, []float64{0.05, 0.5, 0.95}, run.Model.Quantiles)
	assert.Equal(t, 0.005, run.Training.LearningRate)
	assert.Equal(t, 4, run.Training.BatchSize)
	assert.Equal(t, "load_mw", run.Data.TargetColumn)
	assert.Equal(t, 2, run.Data.Stride)
	assert.Equal(t, tft.ScaleZScore, run.Data.Normalization)

	// untouched keys keep library defaults
	assert.Equal(t, tft.DefaultConfig().HiddenSize, run.Model.HiddenSize)
	assert.Equal(t, tft.DefaultTrainingConfig().NumEpochs, run.Training.NumEpochs)
	assert.Equal(t, 0.2, run.Data.ValidationSplit)

	fs := run.Data.featureSet()
	require.Len(t, fs.Known, 2)
	assert.Equal(t, tft.VariableSpec{Name: "hour_sin", Kind: tft.Continuous}, fs.Known[0])
	assert.Equal(t, tft.VariableSpec{Name: "day_of_week", Kind: tft.Categorical, Cardinality: 7}, fs.Known[1])
	require.NoError(t, fs.Validate(run.Model.HiddenSize))

	assert.Equal(t, map[string]float64{"region": 2}, run.Data.staticValues())
}

func TestLoadRunFileErrors(t *testing.T) {
	_, err := loadRunFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[model\nbroken"), 0o644))
	_, err = loadRunFile(bad)
	require.Error(t, err)
}

func TestDataConfigStaticValuesEmpty(t *testing.T) {
	assert.Nil(t, defaultDataConfig().staticValues())
}

func TestDemoWindows(t *testing.T) {
	cfg := tft.DefaultConfig()
	windows, fs := demoWindows(cfg, 1)

	require.NotEmpty(t, windows)
	require.NoError(t, fs.Validate(cfg.HiddenSize))
	require.NoError(t, tft.ValidateBatch(windows, fs, cfg.InputChunkLength, cfg.OutputChunkLength))
}
