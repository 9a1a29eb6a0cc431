package mcnnm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
)

// Estimate fits the MC-NNM model to p and assembles the requested outputs.
//
// Penalties come from opts.LambdaL / opts.LambdaH when both are set; otherwise
// they are selected over a ProposeLambda grid with opts.Method, using a fit
// budget of MaxIter/10 iterations at tolerance Tol*10. The final fit uses the
// full budget.
//
// Shape and configuration problems are returned as errors before any fitting.
// Numerical degeneracies are not errors: an undefined treatment effect is
// reported as NaN.
func Estimate(ctx context.Context, p *Panel, opts Options) (*Result, error) {
	if err := CheckPanel(p); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	N, T := p.Dims()
	if opts.Method == MethodHoldout && T < minHoldoutPeriods {
		return nil, fmt.Errorf("%w: T = %d, need at least %d", ErrInsufficientPeriods, T, minHoldoutPeriods)
	}
	logger := opts.logger()
	pDim, qDim, jDim := p.CovariateDims()
	logger.Debug("estimating",
		slog.Int("N", N), slog.Int("T", T),
		slog.Int("P", pDim), slog.Int("Q", qDim), slog.Int("J", jDim),
		slog.Bool("unit_fe", opts.UseUnitFE), slog.Bool("time_fe", opts.UseTimeFE))

	if p.Omega != nil && !IsPositiveDefinite(p.Omega) {
		logger.Warn("Omega is not positive definite")
	}

	lambda, err := selectPenalties(ctx, p, &opts)
	if err != nil {
		return nil, err
	}

	fitOpts := FitOptions{MaxIter: opts.MaxIter, Tol: opts.Tol}
	fitted := fit(p, opts.ModelSpec, lambda, InitializeParams(p, opts.ModelSpec), fitOpts)
	opts.Metrics.observeFit(fitted)
	logger.Debug("fit finished",
		slog.String("status", fitted.Status.String()),
		slog.Int("iterations", fitted.Iterations),
		slog.Float64("change", fitted.Change))
	if fitted.Status == MaxIterReached {
		logger.Info("fit stopped at max_iter before reaching tol",
			slog.Int("max_iter", opts.MaxIter), slog.Float64("change", fitted.Change))
	}

	return assemble(p, &opts, lambda, fitted, logger), nil
}

// selectPenalties returns the fixed penalties or runs validation.
func selectPenalties(ctx context.Context, p *Panel, opts *Options) (LambdaPair, error) {
	if opts.fixedPenalties() {
		return LambdaPair{L: *opts.LambdaL, H: *opts.LambdaH}, nil
	}
	v, err := opts.validator()
	if err != nil {
		return LambdaPair{}, err
	}
	grid := LambdaGrid(ProposeLambda(opts.NLambdaL), ProposeLambda(opts.NLambdaH))
	return Validate(ctx, v, p, opts.ModelSpec, grid, opts.validationFit(), opts.logger(), opts.Metrics)
}

// assemble computes only the requested outputs.
func assemble(p *Panel, opts *Options, lambda LambdaPair, fitted *FitResult, logger *slog.Logger) *Result {
	res := &Result{
		Iterations: fitted.Iterations,
		Change:     fitted.Change,
		Status:     fitted.Status,
	}

	var completed *mat.Dense
	completedY := func() *mat.Dense {
		if completed == nil {
			completed = CompletedMatrix(p, opts.ModelSpec, fitted.Params)
		}
		return completed
	}

	if opts.ReturnTau {
		tau, err := treatmentEffect(p, completedY())
		if errors.Is(err, ErrNoTreatedEntries) {
			logger.Warn("no treated entries, treatment effect is NaN")
		}
		res.Tau = &tau
	}
	if opts.ReturnLambda {
		l, h := lambda.L, lambda.H
		res.LambdaL, res.LambdaH = &l, &h
	}
	if opts.ReturnCompletedL {
		res.L = fitted.L
	}
	if opts.ReturnCompletedY {
		res.YCompleted = completedY()
	}
	if opts.ReturnFixedEffects {
		if opts.UseUnitFE {
			res.Gamma = fitted.Params.Gamma
		}
		if opts.UseTimeFE {
			res.Delta = fitted.Params.Delta
		}
	}
	if opts.ReturnCovariateCoefficients {
		res.Beta = fitted.Beta
		res.H = fitted.H
	}
	return res
}

// CompleteMatrix estimates the model and returns only the completed outcome
// matrix and the penalties used.
func CompleteMatrix(ctx context.Context, p *Panel, opts Options) (*Result, error) {
	opts.ReturnTau = false
	opts.ReturnLambda = true
	opts.ReturnCompletedL = false
	opts.ReturnCompletedY = true
	opts.ReturnFixedEffects = false
	opts.ReturnCovariateCoefficients = false
	return Estimate(ctx, p, opts)
}

// Objective evaluates the penalized objective on the fitting entries:
// 1/2 sum_{W=0} (Y - completed)^2 + lambda_L ||L||_* + lambda_H ||H||_1.
func Objective(p *Panel, spec ModelSpec, lambda LambdaPair, params Params) float64 {
	completed := CompletedMatrix(p, spec, params)
	N, T := p.Dims()
	sse := 0.0
	for i := 0; i < N; i++ {
		for t := 0; t < T; t++ {
			if p.W.At(i, t) == 0 {
				d := p.Y.At(i, t) - completed.At(i, t)
				sse += d * d
			}
		}
	}
	return sse/2 + lambda.L*NuclearNorm(params.L) + lambda.H*ElementwiseL1Norm(params.H)
}
