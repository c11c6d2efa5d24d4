// Package tft implements the Temporal Fusion Transformer, an attention
// based architecture for multi-horizon time series forecasting with
// quantile outputs and built-in interpretability.
//
// A model consumes a window of history (the past k values of the target
// plus any covariates) together with the covariates whose future values
// are known in advance, and predicts the target's next tau steps at a
// set of quantile levels. Every forecast also carries the variable
// selection weights and attention patterns the model used to produce it,
// so "which inputs mattered" and "how far back it looked" are readable
// from the output instead of requiring post-hoc analysis.
//
// The forward pass, in order: embed every input variable to a shared
// width, select among variables with softmax gates, summarize static
// metadata into context vectors, run an LSTM encoder/decoder over the
// sequence, enrich with static context, apply causal multi-head
// self-attention across the whole window, and project the decoded future
// positions to one value per quantile. Training minimizes pinball loss.
// All numerics run on gonum dense matrices with analytic gradients; no
// tape or autograd is involved.
//
// Typical use:
//
//	model, err := tft.NewModel(cfg, features)
//	trainer, err := tft.NewTrainer(model, trainCfg, logger)
//	hist, err := trainer.Fit(ctx, trainWindows, valWindows)
//	err = model.Save("model.tft")
//
//	model, err = tft.LoadModel("model.tft")
//	forecast, err := model.Forecast(window)
//	p50, _ := forecast.Series(0.5)
//
// Reference: Lim et al., "Temporal Fusion Transformers for Interpretable
// Multi-horizon Time Series Forecasting" (2019),
// https://arxiv.org/abs/1912.09363.
package tft
