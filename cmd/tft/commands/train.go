package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scttfrdmn/tft"
)

// TrainCmd trains a model and writes a checkpoint.
var TrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model and write a checkpoint",
	Long: `Train a Temporal Fusion Transformer and write its parameters to a
checkpoint file.

The run is described by a TOML file with [model], [training] and [data]
sections; keys missing from the file keep the library defaults. With
--synthetic a built-in noisy sine series replaces the data file, which is
the quickest way to see the full pipeline run.

Example run file:

  [model]
  input_chunk_length = 96
  output_chunk_length = 24
  hidden_size = 16
  quantiles = [0.1, 0.5, 0.9]

  [training]
  learning_rate = 1e-3
  num_epochs = 20

  [data]
  target_column = "load_mw"
  validation_split = 0.2
  normalization = "zscore"

  [[data.known]]
  name = "hour_sin"

  [[data.known]]
  name = "day_of_week"
  categorical = true
  cardinality = 7

Interrupting a run (Ctrl-C) stops it at the next batch boundary and still
writes the checkpoint.`,
	RunE: runTrain,
}

var (
	trainConfigPath string
	trainDataPath   string
	trainOutPath    string
	trainSynthetic  bool
	trainResumePath string
)

func init() {
	TrainCmd.Flags().StringVarP(&trainConfigPath, "config", "c", "", "TOML run file")
	TrainCmd.Flags().StringVarP(&trainDataPath, "data", "d", "", "CSV series file")
	TrainCmd.Flags().StringVarP(&trainOutPath, "out", "o", "model.tft", "Checkpoint path to write")
	TrainCmd.Flags().BoolVar(&trainSynthetic, "synthetic", false, "Train on the built-in sine demo series")
	TrainCmd.Flags().StringVar(&trainResumePath, "resume", "", "Checkpoint to continue training from")
}

func runTrain(cmd *cobra.Command, args []string) error {
	run, err := loadRunFile(trainConfigPath)
	if err != nil {
		return err
	}

	// On resume the checkpoint is authoritative: its configuration, feature
	// set and scaler replace the run file's [model] and [data] schema.
	var (
		model  *tft.Model
		scaler *tft.Scaler
	)
	if trainResumePath != "" {
		if model, err = tft.LoadModel(trainResumePath); err != nil {
			return err
		}
		scaler = model.Scaler()
		log.Info("resuming from checkpoint", zap.String("path", trainResumePath))
		if scaler == nil && run.Data.Normalization != "" {
			log.Warn("checkpoint was trained without normalization; the run file's normalization key is ignored")
		}
	}
	modelCfg := run.Model
	if model != nil {
		modelCfg = model.Config()
	}

	var (
		windows []*tft.TimeWindow
		fs      tft.FeatureSet
	)
	switch {
	case trainSynthetic:
		windows, fs = demoWindows(modelCfg, run.Training.Seed)
	case trainDataPath != "":
		fs = run.Data.featureSet()
		if model != nil {
			fs = model.Features()
		}
		series, err := tft.ReadSeriesCSV(trainDataPath, run.Data.TargetColumn, fs)
		if err != nil {
			return err
		}
		series.Static = run.Data.staticValues()
		if model == nil && run.Data.Normalization != "" {
			if scaler, err = tft.NewScaler(run.Data.Normalization); err != nil {
				return err
			}
			if err := scaler.Fit(series, fs); err != nil {
				return err
			}
			log.Info("fitted input scaler", zap.String("method", scaler.Method))
		}
		if scaler != nil {
			scaler.Apply(series)
		}
		windows = series.Windows(modelCfg.InputChunkLength, modelCfg.OutputChunkLength, run.Data.Stride)
	default:
		return errors.New("either --data or --synthetic is required")
	}
	if len(windows) == 0 {
		return errors.Newf("series too short: no full %d past + %d future step windows",
			modelCfg.InputChunkLength, modelCfg.OutputChunkLength)
	}

	trainSet, valSet := tft.SplitWindows(windows, run.Data.ValidationSplit)

	if model == nil {
		if model, err = tft.NewModel(run.Model, fs); err != nil {
			return err
		}
		model.SetScaler(scaler)
	}

	trainer, err := tft.NewTrainer(model, run.Training, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hist, err := trainer.Fit(ctx, trainSet, valSet)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Warn("interrupted, saving progress so far")
	default:
		return err
	}

	if err := model.Save(trainOutPath); err != nil {
		return err
	}
	log.Info("checkpoint written",
		zap.String("path", trainOutPath),
		zap.Int("parameters", model.NumParameters()),
		zap.Int("steps", hist.Steps()),
		zap.Float64("final_loss", hist.FinalLoss()),
	)
	return nil
}
