package tft

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for the three failure classes. Callers check them with
// errors.Is (or the Is* helpers below); everything raised by this package
// wraps one of these.
var (
	// ErrValidation indicates a batch or window that does not match the
	// declared feature schema or window lengths. Raised before any
	// computation touches the data.
	ErrValidation = errors.New("tft: validation failed")

	// ErrConfiguration indicates an invalid model or training
	// configuration. Raised at construction time, never mid-run.
	ErrConfiguration = errors.New("tft: invalid configuration")

	// ErrDivergence indicates a non-finite loss or gradient. The training
	// run must abort; parameters past this point are not trustworthy.
	ErrDivergence = errors.New("tft: training diverged")
)

// IsValidationError reports whether err is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return err != nil && errors.Is(err, ErrValidation)
}

// IsConfigurationError reports whether err is or wraps ErrConfiguration.
func IsConfigurationError(err error) bool {
	return err != nil && errors.Is(err, ErrConfiguration)
}

// IsDivergenceError reports whether err is or wraps ErrDivergence.
func IsDivergenceError(err error) bool {
	return err != nil && errors.Is(err, ErrDivergence)
}

// validationErrorf creates a validation error with a formatted message.
func validationErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// configErrorf creates a configuration error with a formatted message.
func configErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// divergenceErrorf creates a divergence error carrying batch context.
func divergenceErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrDivergence, format, args...)
}
