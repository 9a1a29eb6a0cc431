package mcnnm

import "errors"

var (
	// ErrShapeMismatch is returned when input dimensions disagree.
	ErrShapeMismatch = errors.New("mcnnm: shape mismatch")
	// ErrInvalidValidationMethod is returned for a method other than "cv" or "holdout".
	ErrInvalidValidationMethod = errors.New("mcnnm: invalid validation method, choose 'cv' or 'holdout'")
	// ErrInsufficientPeriods is returned when rolling validation has fewer than 5 periods.
	ErrInsufficientPeriods = errors.New("mcnnm: not enough time periods for time-based validation, use cross-validation")
	// ErrNoTreatedEntries marks a treatment effect that is undefined because W has no treated entry.
	ErrNoTreatedEntries = errors.New("mcnnm: no treated entries, treatment effect is undefined")
	// ErrInvalidConfig is returned for out-of-range numeric settings.
	ErrInvalidConfig = errors.New("mcnnm: invalid configuration")
	// ErrEmptyGrid is returned when a validator receives no candidates.
	ErrEmptyGrid = errors.New("mcnnm: empty lambda grid")
)
