package commands

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/scttfrdmn/tft"
)

// runFile is the TOML layout of a training run: model geometry,
// optimization hyperparameters, and the shape of the data file. Missing
// keys keep the library defaults.
type runFile struct {
	Model    tft.Config         `mapstructure:"model"`
	Training tft.TrainingConfig `mapstructure:"training"`
	Data     dataConfig         `mapstructure:"data"`
}

// dataConfig describes how to interpret the series CSV.
type dataConfig struct {
	TargetColumn    string           `mapstructure:"target_column"`
	Observed        []variableConfig `mapstructure:"observed"`
	Known           []variableConfig `mapstructure:"known"`
	Static          []variableConfig `mapstructure:"static"`
	Stride          int              `mapstructure:"stride"`
	ValidationSplit float64          `mapstructure:"validation_split"`

	// Normalization rescales the target and continuous covariates before
	// training ("zscore" or "minmax"); empty trains on raw values. The
	// fitted scaler is stored in the checkpoint and applied symmetrically
	// at forecast time.
	Normalization string `mapstructure:"normalization"`
}

// variableConfig declares one covariate. Static variables carry their
// value here because values that do not change with time have no column
// in the CSV.
type variableConfig struct {
	Name        string  `mapstructure:"name"`
	Categorical bool    `mapstructure:"categorical"`
	Cardinality int     `mapstructure:"cardinality"`
	Value       float64 `mapstructure:"value"`
}

func defaultDataConfig() dataConfig {
	return dataConfig{
		TargetColumn:    tft.TargetName,
		Stride:          1,
		ValidationSplit: 0.2,
	}
}

// loadRunFile reads a TOML run description over the library defaults.
// An empty path returns pure defaults.
func loadRunFile(path string) (*runFile, error) {
	run := &runFile{
		Model:    tft.DefaultConfig(),
		Training: tft.DefaultTrainingConfig(),
		Data:     defaultDataConfig(),
	}
	if path == "" {
		return run, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading run file %s", path)
	}
	if err := v.Unmarshal(run); err != nil {
		return nil, errors.Wrapf(err, "parsing run file %s", path)
	}
	return run, nil
}

func (d dataConfig) featureSet() tft.FeatureSet {
	return tft.FeatureSet{
		Static:   specs(d.Static),
		Observed: specs(d.Observed),
		Known:    specs(d.Known),
	}
}

func (d dataConfig) staticValues() map[string]float64 {
	if len(d.Static) == 0 {
		return nil
	}
	out := make(map[string]float64, len(d.Static))
	for _, v := range d.Static {
		out[v.Name] = v.Value
	}
	return out
}

func specs(vars []variableConfig) []tft.VariableSpec {
	if len(vars) == 0 {
		return nil
	}
	out := make([]tft.VariableSpec, len(vars))
	for i, v := range vars {
		kind := tft.Continuous
		if v.Categorical {
			kind = tft.Categorical
		}
		out[i] = tft.VariableSpec{Name: v.Name, Kind: kind, Cardinality: v.Cardinality}
	}
	return out
}

// demoWindows generates the built-in noisy sine demo sized to the model's
// window geometry: daily period, two cyclical known covariates.
func demoWindows(cfg tft.Config, seed int64) ([]*tft.TimeWindow, tft.FeatureSet) {
	n := cfg.InputChunkLength + cfg.OutputChunkLength + 500
	return tft.SineDataset(n, cfg.InputChunkLength, cfg.OutputChunkLength, 1, 24, 10, 0.5, seed)
}
