package mcnnm

import (
	"fmt"
	"io"
	"log/slog"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures Estimate.
type Options struct {
	ModelSpec

	// When both are set the penalties are used as-is and no validation runs.
	LambdaL *float64
	LambdaH *float64

	// Grid sizes for lambda_L and lambda_H when penalties are selected
	NLambdaL int
	NLambdaH int

	MaxIter int
	Tol     float64

	Method ValidationMethod
	// Number of folds for either validation method
	K int
	// Rolling window settings for the holdout method; zero fields use defaults.
	InitialWindow int
	StepSize      int
	Horizon       int
	MaxWindowSize int

	ReturnTau                   bool
	ReturnLambda                bool
	ReturnCompletedL            bool
	ReturnCompletedY            bool
	ReturnFixedEffects          bool
	ReturnCovariateCoefficients bool

	// Goroutines used to score the grid; <= 0 means runtime.NumCPU()
	Workers int
	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ModelSpec:        ModelSpec{UseUnitFE: true, UseTimeFE: true},
		NLambdaL:         10,
		NLambdaH:         10,
		MaxIter:          1000,
		Tol:              1e-4,
		Method:           MethodCV,
		K:                5,
		ReturnTau:        true,
		ReturnLambda:     true,
		ReturnCompletedL: true,
		ReturnCompletedY: true,
	}
}

// Validate reports the first out-of-range setting.
func (o *Options) Validate() error {
	switch {
	case o.MaxIter < 1:
		return fmt.Errorf("%w: max_iter must be >= 1, got %d", ErrInvalidConfig, o.MaxIter)
	case !(o.Tol > 0):
		return fmt.Errorf("%w: tol must be > 0, got %v", ErrInvalidConfig, o.Tol)
	case o.LambdaL != nil && *o.LambdaL < 0:
		return fmt.Errorf("%w: lambda_L must be >= 0, got %v", ErrInvalidConfig, *o.LambdaL)
	case o.LambdaH != nil && *o.LambdaH < 0:
		return fmt.Errorf("%w: lambda_H must be >= 0, got %v", ErrInvalidConfig, *o.LambdaH)
	case o.Method != MethodCV && o.Method != MethodHoldout:
		return fmt.Errorf("%w: %q", ErrInvalidValidationMethod, o.Method)
	}
	if o.fixedPenalties() {
		return nil
	}
	switch {
	case o.NLambdaL < 1 || o.NLambdaH < 1:
		return fmt.Errorf("%w: grid sizes must be >= 1, got %d x %d", ErrInvalidConfig, o.NLambdaL, o.NLambdaH)
	case o.K < 1:
		return fmt.Errorf("%w: K must be >= 1, got %d", ErrInvalidConfig, o.K)
	case o.InitialWindow < 0 || o.StepSize < 0 || o.Horizon < 0 || o.MaxWindowSize < 0:
		return fmt.Errorf("%w: rolling window sizes must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func (o *Options) fixedPenalties() bool { return o.LambdaL != nil && o.LambdaH != nil }

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		return discardLogger
	}
	return o.Logger
}

// validationFit is the reduced budget used inside validation: ten times the
// tolerance and a tenth of the iterations.
func (o *Options) validationFit() FitOptions {
	return FitOptions{MaxIter: max(o.MaxIter/10, 1), Tol: o.Tol * 10}
}

// validator builds the Validator for o.Method.
func (o *Options) validator() (Validator, error) {
	switch o.Method {
	case MethodCV:
		return &UnitFoldValidator{K: o.K, Workers: o.Workers, Logger: o.Logger, Metrics: o.Metrics}, nil
	case MethodHoldout:
		return &RollingWindowValidator{
			Window: RollingWindow{
				InitialWindow: o.InitialWindow,
				StepSize:      o.StepSize,
				Horizon:       o.Horizon,
				K:             o.K,
				MaxWindowSize: o.MaxWindowSize,
			},
			Workers: o.Workers,
			Logger:  o.Logger,
			Metrics: o.Metrics,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidValidationMethod, o.Method)
}

// ParseValidationMethod maps "cv" and "holdout" to their ValidationMethod.
func ParseValidationMethod(s string) (ValidationMethod, error) {
	switch m := ValidationMethod(s); m {
	case MethodCV, MethodHoldout:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidValidationMethod, s)
}
