package mcnnm

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Panel holds the already-shaped inputs of one estimation.
type Panel struct {
	// Outcomes, N units x T periods
	Y *mat.Dense
	// Treatment indicator, N x T. 1 = treated (not used for fitting), 0 = used for fitting
	W *mat.Dense

	// Optional covariates. A nil matrix means the dimension is 0.
	X *mat.Dense   // N x P unit covariates
	Z *mat.Dense   // T x Q time covariates
	V []*mat.Dense // J matrices of N x T unit-time covariates

	// Autocorrelation weights, T x T. Nil means identity.
	Omega *mat.Dense
}

// Dims returns the number of units and periods.
func (p *Panel) Dims() (n, t int) { return p.Y.Dims() }

// CovariateDims returns P, Q and J; absent covariates count as 0.
func (p *Panel) CovariateDims() (pDim, qDim, jDim int) {
	if p.X != nil {
		_, pDim = p.X.Dims()
	}
	if p.Z != nil {
		_, qDim = p.Z.Dims()
	}
	return pDim, qDim, len(p.V)
}

// ModelSpec says which additive components the model carries.
type ModelSpec struct {
	UseUnitFE bool
	UseTimeFE bool
}

// LambdaPair is one candidate (lambda_L, lambda_H) penalty pair.
type LambdaPair struct {
	L float64 // nuclear norm penalty on the low-rank matrix
	H float64 // L1 penalty on the covariate coefficients
}

// Params are the block variables updated by every sweep.
type Params struct {
	// Low-rank counterfactual surface, N x T
	L *mat.Dense
	// Coefficients of the augmented covariates, (P+N) x (Q+T)
	H *mat.Dense
	// Unit and time fixed effects (zeros when disabled)
	Gamma []float64
	Delta []float64
	// Unit-time covariate coefficients, length J
	Beta []float64
}

// FitStatus is the state of the fit loop.
type FitStatus int

const (
	Running FitStatus = iota
	Converged
	MaxIterReached
)

func (s FitStatus) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max_iter_reached"
	}
	return "unknown"
}

// FitResult is the frozen output of the fit loop.
type FitResult struct {
	Params

	Iterations int
	// Frobenius norm of the last change in L
	Change float64
	Status FitStatus
}

// FitOptions controls the convergence budget of a single fit.
type FitOptions struct {
	MaxIter int
	Tol     float64
}

// ValidationMethod selects how penalties are chosen when none are supplied.
type ValidationMethod string

const (
	// Unit-wise K-fold cross-validation
	MethodCV ValidationMethod = "cv"
	// Rolling time-window validation
	MethodHoldout ValidationMethod = "holdout"
)

// Validator scores a grid of penalty pairs on held-out data.
type Validator interface {
	// Method returns which validation scheme the validator implements
	Method() ValidationMethod
	// Losses returns the held-out loss of every grid candidate, in grid order.
	// Non-finite entries mark degenerate candidates.
	Losses(ctx context.Context, p *Panel, spec ModelSpec, grid []LambdaPair, fit FitOptions) ([]float64, error)
}

// Result is the outcome of Estimate. Fields that were not requested stay nil.
type Result struct {
	Tau     *float64
	LambdaL *float64
	LambdaH *float64

	L          *mat.Dense
	YCompleted *mat.Dense

	Gamma []float64
	Delta []float64
	Beta  []float64
	H     *mat.Dense

	// Convergence diagnostics of the final fit
	Iterations int
	Change     float64
	Status     FitStatus
}
