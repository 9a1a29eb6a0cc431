package mcnnm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the file form of Options.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Penalty    PenaltyConfig    `yaml:"penalty"`
	Solver     SolverConfig     `yaml:"solver"`
	Validation ValidationConfig `yaml:"validation"`
	Outputs    OutputConfig     `yaml:"outputs"`

	// Goroutines used to score the penalty grid; 0 means one per CPU
	Workers int `yaml:"workers" validate:"gte=0"`
}

type ModelConfig struct {
	UnitFixedEffects bool `yaml:"unit_fixed_effects"`
	TimeFixedEffects bool `yaml:"time_fixed_effects"`
}

// PenaltyConfig either fixes both penalties or sizes the search grid.
type PenaltyConfig struct {
	LambdaL  *float64 `yaml:"lambda_L" validate:"omitempty,gte=0"`
	LambdaH  *float64 `yaml:"lambda_H" validate:"omitempty,gte=0"`
	NLambdaL int      `yaml:"n_lambda_L" validate:"gte=1"`
	NLambdaH int      `yaml:"n_lambda_H" validate:"gte=1"`
}

type SolverConfig struct {
	MaxIter int     `yaml:"max_iter" validate:"gte=1"`
	Tol     float64 `yaml:"tol" validate:"gt=0"`
}

type ValidationConfig struct {
	Method        string `yaml:"method" validate:"oneof=cv holdout"`
	K             int    `yaml:"k" validate:"gte=1"`
	InitialWindow int    `yaml:"initial_window" validate:"gte=0"`
	StepSize      int    `yaml:"step_size" validate:"gte=0"`
	Horizon       int    `yaml:"horizon" validate:"gte=0"`
	MaxWindowSize int    `yaml:"max_window_size" validate:"gte=0"`
}

type OutputConfig struct {
	Tau                   bool `yaml:"tau"`
	Lambda                bool `yaml:"lambda"`
	CompletedL            bool `yaml:"completed_L"`
	CompletedY            bool `yaml:"completed_Y"`
	FixedEffects          bool `yaml:"fixed_effects"`
	CovariateCoefficients bool `yaml:"covariate_coefficients"`
}

var configValidate = validator.New()

// DefaultConfig mirrors DefaultOptions.
func DefaultConfig() Config {
	o := DefaultOptions()
	return Config{
		Model: ModelConfig{
			UnitFixedEffects: o.UseUnitFE,
			TimeFixedEffects: o.UseTimeFE,
		},
		Penalty: PenaltyConfig{NLambdaL: o.NLambdaL, NLambdaH: o.NLambdaH},
		Solver:  SolverConfig{MaxIter: o.MaxIter, Tol: o.Tol},
		Validation: ValidationConfig{
			Method: string(o.Method),
			K:      o.K,
		},
		Outputs: OutputConfig{
			Tau:        o.ReturnTau,
			Lambda:     o.ReturnLambda,
			CompletedL: o.ReturnCompletedL,
			CompletedY: o.ReturnCompletedY,
		},
	}
}

// LoadConfig reads a YAML config on top of DefaultConfig, applies MCNNM_*
// environment overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides solver and validation settings from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"MCNNM_MAX_ITER": &c.Solver.MaxIter,
		"MCNNM_K":        &c.Validation.K,
		"MCNNM_WORKERS":  &c.Workers,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
			}
			*dst = i
		}
	}
	if v, ok := lookup("MCNNM_TOL"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: MCNNM_TOL=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Solver.Tol = f
	}
	if v, ok := lookup("MCNNM_METHOD"); ok {
		c.Validation.Method = v
	}
	return nil
}

// Validate checks field ranges. An unknown method is reported as
// ErrInvalidValidationMethod, anything else as ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, err := ParseValidationMethod(c.Validation.Method); err != nil {
		return err
	}
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Options converts c into Options. Logger, Metrics and fixed penalties given on
// the command line are set by the caller.
func (c *Config) Options() Options {
	return Options{
		ModelSpec: ModelSpec{
			UseUnitFE: c.Model.UnitFixedEffects,
			UseTimeFE: c.Model.TimeFixedEffects,
		},
		LambdaL:                     c.Penalty.LambdaL,
		LambdaH:                     c.Penalty.LambdaH,
		NLambdaL:                    c.Penalty.NLambdaL,
		NLambdaH:                    c.Penalty.NLambdaH,
		MaxIter:                     c.Solver.MaxIter,
		Tol:                         c.Solver.Tol,
		Method:                      ValidationMethod(c.Validation.Method),
		K:                           c.Validation.K,
		InitialWindow:               c.Validation.InitialWindow,
		StepSize:                    c.Validation.StepSize,
		Horizon:                     c.Validation.Horizon,
		MaxWindowSize:               c.Validation.MaxWindowSize,
		ReturnTau:                   c.Outputs.Tau,
		ReturnLambda:                c.Outputs.Lambda,
		ReturnCompletedL:            c.Outputs.CompletedL,
		ReturnCompletedY:            c.Outputs.CompletedY,
		ReturnFixedEffects:          c.Outputs.FixedEffects,
		ReturnCovariateCoefficients: c.Outputs.CovariateCoefficients,
		Workers:                     c.Workers,
	}
}
