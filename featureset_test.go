package tft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFeatureSet() FeatureSet {
	return FeatureSet{
		Static: []VariableSpec{
			{Name: "store", Kind: Categorical, Cardinality: 5},
			{Name: "elevation", Kind: Continuous},
		},
		Observed: []VariableSpec{
			{Name: "humidity", Kind: Continuous},
		},
		Known: []VariableSpec{
			{Name: "hour", Kind: Categorical, Cardinality: 24},
			{Name: "promo", Kind: Continuous},
		},
	}
}

func TestFeatureSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(fs *FeatureSet)
		wantErr string
	}{
		{
			name:   "valid schema",
			mutate: func(fs *FeatureSet) {},
		},
		{
			name:    "no known covariates",
			mutate:  func(fs *FeatureSet) { fs.Known = nil },
			wantErr: "at least one known future covariate",
		},
		{
			name: "empty name",
			mutate: func(fs *FeatureSet) {
				fs.Observed = append(fs.Observed, VariableSpec{Kind: Continuous})
			},
			wantErr: "empty name",
		},
		{
			name: "duplicate across roles",
			mutate: func(fs *FeatureSet) {
				fs.Known = append(fs.Known, VariableSpec{Name: "humidity", Kind: Continuous})
			},
			wantErr: "declared twice",
		},
		{
			name: "embedding dim disagrees with hidden size",
			mutate: func(fs *FeatureSet) {
				fs.Static[1].EmbeddingDim = 7
			},
			wantErr: "embedding dim 7",
		},
		{
			name: "categorical without cardinality",
			mutate: func(fs *FeatureSet) {
				fs.Known[0].Cardinality = 0
			},
			wantErr: "cardinality >= 2",
		},
		{
			name: "continuous with cardinality",
			mutate: func(fs *FeatureSet) {
				fs.Observed[0].Cardinality = 3
			},
			wantErr: "must not declare a cardinality",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := testFeatureSet()
			tt.mutate(&fs)
			err := fs.Validate(16)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err), "schema failures are configuration errors")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFeatureSetEmbeddingDimMatchingHiddenSize(t *testing.T) {
	fs := testFeatureSet()
	fs.Known[1].EmbeddingDim = 16
	require.NoError(t, fs.Validate(16), "an explicit dim equal to the hidden size is fine")
}

func TestFeatureSetCounts(t *testing.T) {
	fs := testFeatureSet()
	assert.Equal(t, 2, fs.NumStatic())
	assert.Equal(t, 4, fs.NumPast(), "implicit target + observed + known")
	assert.Equal(t, 2, fs.NumFuture())
}

func TestFeatureSetNames(t *testing.T) {
	fs := testFeatureSet()
	assert.Equal(t, []string{"store", "elevation"}, fs.StaticNames())
	assert.Equal(t, []string{"target", "humidity", "hour", "promo"}, fs.PastNames(),
		"past columns are target first, then observed, then known")
	assert.Equal(t, []string{"hour", "promo"}, fs.FutureNames())
}

func TestVarKindString(t *testing.T) {
	assert.Equal(t, "continuous", Continuous.String())
	assert.Equal(t, "categorical", Categorical.String())
	assert.Equal(t, "unknown", VarKind(99).String())
}
