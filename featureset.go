package tft

// VarKind distinguishes continuous variables (projected through a learned
// linear map) from categorical variables (looked up in a learned embedding
// table).
type VarKind int

const (
	Continuous VarKind = iota
	Categorical
)

func (k VarKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// VariableSpec describes one input variable. The schema is fixed at
// construction time so every array shape is known before execution; windows
// are validated against it, never introspected.
type VariableSpec struct {
	Name string  `json:"name"`
	Kind VarKind `json:"kind"`

	// EmbeddingDim is the declared embedding width. Zero means "use the
	// model's hidden size". A nonzero value that disagrees with the hidden
	// size is rejected at construction: every variable must enter variable
	// selection at the same width.
	EmbeddingDim int `json:"embedding_dim,omitempty"`

	// Cardinality is the number of distinct values a categorical variable
	// may take. Ignored for continuous variables.
	Cardinality int `json:"cardinality,omitempty"`
}

// FeatureSet declares the variables a model consumes, grouped by role:
// static features are constant per window, observed covariates exist only
// for past steps, known covariates span past and future steps. The past
// target is implicit — every model has it and it is not listed here.
type FeatureSet struct {
	Static   []VariableSpec `json:"static"`
	Observed []VariableSpec `json:"observed"`
	Known    []VariableSpec `json:"known"`
}

// Validate checks the schema against the model's hidden size. All failures
// are configuration errors: a bad schema can never be fixed by better data.
func (fs FeatureSet) Validate(hiddenSize int) error {
	if len(fs.Known) == 0 {
		// The decoder consumes one embedding per future step; with no
		// known covariates there is nothing to embed. A deterministic
		// calendar or index covariate always qualifies.
		return configErrorf("at least one known future covariate is required")
	}
	seen := make(map[string]string, len(fs.Static)+len(fs.Observed)+len(fs.Known))

	check := func(role string, specs []VariableSpec) error {
		for _, v := range specs {
			if v.Name == "" {
				return configErrorf("%s variable with empty name", role)
			}
			if prev, ok := seen[v.Name]; ok {
				return configErrorf("variable %q declared twice (%s and %s)", v.Name, prev, role)
			}
			seen[v.Name] = role

			if v.EmbeddingDim != 0 && v.EmbeddingDim != hiddenSize {
				return configErrorf("variable %q declares embedding dim %d, model hidden size is %d",
					v.Name, v.EmbeddingDim, hiddenSize)
			}
			if v.Kind == Categorical && v.Cardinality < 2 {
				return configErrorf("categorical variable %q needs cardinality >= 2, got %d",
					v.Name, v.Cardinality)
			}
			if v.Kind == Continuous && v.Cardinality != 0 {
				return configErrorf("continuous variable %q must not declare a cardinality", v.Name)
			}
		}
		return nil
	}

	if err := check("static", fs.Static); err != nil {
		return err
	}
	if err := check("observed", fs.Observed); err != nil {
		return err
	}
	return check("known", fs.Known)
}

// NumStatic returns the number of static variables.
func (fs FeatureSet) NumStatic() int { return len(fs.Static) }

// NumPast returns the number of variables feeding the past (encoder) VSN:
// the implicit target plus observed plus known covariates.
func (fs FeatureSet) NumPast() int { return 1 + len(fs.Observed) + len(fs.Known) }

// NumFuture returns the number of variables feeding the future (decoder)
// VSN: the known covariates.
func (fs FeatureSet) NumFuture() int { return len(fs.Known) }

// TargetName is the implicit past-target variable's name in PastNames and
// in reported selection weights.
const TargetName = "target"

// StaticNames returns the static variable names in declaration order,
// matching the columns of a forecast's StaticWeights.
func (fs FeatureSet) StaticNames() []string {
	out := make([]string, len(fs.Static))
	for i, v := range fs.Static {
		out[i] = v.Name
	}
	return out
}

// PastNames returns the encoder-side variable names in column order:
// the implicit target, then observed, then known covariates.
func (fs FeatureSet) PastNames() []string {
	out := make([]string, 0, fs.NumPast())
	out = append(out, TargetName)
	for _, v := range fs.Observed {
		out = append(out, v.Name)
	}
	for _, v := range fs.Known {
		out = append(out, v.Name)
	}
	return out
}

// FutureNames returns the decoder-side variable names in column order.
func (fs FeatureSet) FutureNames() []string {
	out := make([]string, len(fs.Known))
	for i, v := range fs.Known {
		out[i] = v.Name
	}
	return out
}
