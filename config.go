package tft

import "fmt"

// Config holds the hyperparameters of a model instance. It is persisted
// into every checkpoint so that a saved parameter bundle can always be
// restored into an identically-shaped model.
type Config struct {
	// Window geometry.
	InputChunkLength  int `json:"input_chunk_length" mapstructure:"input_chunk_length"`   // k: past steps consumed
	OutputChunkLength int `json:"output_chunk_length" mapstructure:"output_chunk_length"` // tau: future steps predicted

	// Architecture.
	HiddenSize         int     `json:"hidden_size" mapstructure:"hidden_size"` // d_model: width of every internal representation
	NumAttentionHeads  int     `json:"num_attention_heads" mapstructure:"num_attention_heads"`
	NumRecurrentLayers int     `json:"num_recurrent_layers" mapstructure:"num_recurrent_layers"`
	DropoutRate        float64 `json:"dropout_rate" mapstructure:"dropout_rate"`

	// Quantiles, ascending, each strictly inside (0, 1).
	Quantiles []float64 `json:"quantiles" mapstructure:"quantiles"`

	// ClipQuantileCrossing enables the post-processor that rearranges
	// crossed quantile predictions into non-decreasing order (running max
	// in quantile order). Crossings are detected and counted either way.
	ClipQuantileCrossing bool `json:"clip_quantile_crossing" mapstructure:"clip_quantile_crossing"`

	// Seed for parameter initialization and dropout. Zero picks a fixed
	// default so fresh models are reproducible by default.
	Seed int64 `json:"seed" mapstructure:"seed"`
}

// DefaultConfig returns a small configuration suitable for experiments and
// tests. Real deployments override the window geometry at minimum.
func DefaultConfig() Config {
	return Config{
		InputChunkLength:   24,
		OutputChunkLength:  12,
		HiddenSize:         16,
		NumAttentionHeads:  4,
		NumRecurrentLayers: 1,
		DropoutRate:        0.1,
		Quantiles:          []float64{0.1, 0.5, 0.9},
	}
}

// Validate rejects impossible configurations. Called by NewModel; exposed
// so callers can fail fast before constructing feature data.
func (c Config) Validate() error {
	if c.InputChunkLength <= 0 {
		return configErrorf("input chunk length must be positive, got %d", c.InputChunkLength)
	}
	if c.OutputChunkLength <= 0 {
		return configErrorf("output chunk length must be positive, got %d", c.OutputChunkLength)
	}
	if c.HiddenSize <= 0 {
		return configErrorf("hidden size must be positive, got %d", c.HiddenSize)
	}
	if c.NumAttentionHeads <= 0 {
		return configErrorf("attention heads must be positive, got %d", c.NumAttentionHeads)
	}
	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return configErrorf("hidden size %d not divisible by %d attention heads",
			c.HiddenSize, c.NumAttentionHeads)
	}
	if c.NumRecurrentLayers <= 0 {
		return configErrorf("recurrent layers must be positive, got %d", c.NumRecurrentLayers)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return configErrorf("dropout rate must be in [0, 1), got %g", c.DropoutRate)
	}
	if len(c.Quantiles) == 0 {
		return configErrorf("quantile set is empty")
	}
	for i, q := range c.Quantiles {
		if q <= 0 || q >= 1 {
			return configErrorf("quantile %g out of range (0, 1)", q)
		}
		if i > 0 && q <= c.Quantiles[i-1] {
			return configErrorf("quantiles must be strictly ascending, got %g after %g",
				q, c.Quantiles[i-1])
		}
	}
	return nil
}

// seqLen returns the combined sequence length k+tau.
func (c Config) seqLen() int {
	return c.InputChunkLength + c.OutputChunkLength
}

func (c Config) String() string {
	return fmt.Sprintf("Config(k=%d, tau=%d, d=%d, heads=%d, lstm=%d, quantiles=%v)",
		c.InputChunkLength, c.OutputChunkLength, c.HiddenSize,
		c.NumAttentionHeads, c.NumRecurrentLayers, c.Quantiles)
}
