package mcnnm

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// Without covariates or fixed effects the sweep reduces to soft-impute on L.
func TestFit_DegenerateCaseIsSoftImpute(t *testing.T) {
	p, _ := syntheticPanel(20, 6, 5, 2, 2, 2, 1, 0.1)
	spec := ModelSpec{}
	lambda := LambdaPair{L: 0.01, H: 0.5}
	const sweeps = 3

	res, err := Fit(p, spec, lambda, InitializeParams(p, spec), FitOptions{MaxIter: sweeps, Tol: 1e-300})
	require.NoError(t, err)
	require.Equal(t, sweeps, res.Iterations)
	require.Equal(t, MaxIterReached, res.Status)

	N, T := p.Dims()
	observed := 0.0
	for i := 0; i < N; i++ {
		for t2 := 0; t2 < T; t2++ {
			if p.W.At(i, t2) == 0 {
				observed++
			}
		}
	}
	want := mat.NewDense(N, T, nil)
	for k := 0; k < sweeps; k++ {
		var proj mat.Dense
		proj.Apply(func(i, t2 int, v float64) float64 {
			if p.W.At(i, t2) == 0 {
				return p.Y.At(i, t2)
			}
			return v
		}, want)
		want = ShrinkSingularValues(&proj, lambda.L*observed/2)
	}
	assertMatrixNear(t, "L", res.L, want, 1e-9)

	assert.Equal(t, 0.0, ElementwiseL1Norm(res.H), "H must stay zero without covariates")
	assert.Empty(t, res.Beta)
	assert.Equal(t, make([]float64, N), res.Gamma)
	assert.Equal(t, make([]float64, T), res.Delta)
}

func TestFit_RunsAtLeastOneSweep(t *testing.T) {
	p, _ := syntheticPanel(21, 5, 5, 1, 1, 1, 1, 0)
	spec := ModelSpec{UseUnitFE: true, UseTimeFE: true}
	res, err := Fit(p, spec, LambdaPair{L: 0.1}, InitializeParams(p, spec), FitOptions{MaxIter: 1, Tol: 1e9})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, Converged, res.Status)
}

// A penalty large enough to zero L leaves L unchanged after the first sweep.
func TestFit_ConvergesWhenLStaysZero(t *testing.T) {
	p, _ := syntheticPanel(22, 8, 6, 2, 2, 2, 3, 0.1)
	spec := ModelSpec{UseUnitFE: true, UseTimeFE: true}
	res, err := Fit(p, spec, LambdaPair{L: 1e6}, InitializeParams(p, spec), FitOptions{MaxIter: 50, Tol: 1e-6})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0.0, res.Change)
}

func TestFit_TerminatesWithinBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	p, _ := syntheticPanel(23, 10, 8, 2, 3, 2, 2, 0.5)
	p.X = randomDense(rng, 10, 2)
	p.Z = randomDense(rng, 8, 1)
	p.V = []*mat.Dense{randomDense(rng, 10, 8)}
	spec := ModelSpec{UseUnitFE: true, UseTimeFE: true}

	opts := FitOptions{MaxIter: 25, Tol: 1e-4}
	res, err := Fit(p, spec, LambdaPair{L: 0.05, H: 0.1}, InitializeParams(p, spec), opts)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Iterations, opts.MaxIter)
	switch res.Status {
	case Converged:
		assert.Less(t, res.Change, opts.Tol)
	case MaxIterReached:
		assert.Equal(t, opts.MaxIter, res.Iterations)
	default:
		t.Fatalf("status = %v after Fit returned", res.Status)
	}

	r, c := res.H.Dims()
	assert.Equal(t, 2+10, r)
	assert.Equal(t, 1+8, c)
	assert.Len(t, res.Beta, 1)
}

func TestFit_ShapeMismatch(t *testing.T) {
	p, _ := syntheticPanel(24, 4, 5, 1, 1, 1, 1, 0)
	spec := ModelSpec{}

	bad := &Panel{Y: p.Y, W: mat.NewDense(4, 4, nil)}
	_, err := Fit(bad, spec, LambdaPair{}, InitializeParams(p, spec), FitOptions{MaxIter: 1, Tol: 1})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Fit with bad W error = %v, want ErrShapeMismatch", err)
	}

	other, _ := syntheticPanel(24, 3, 5, 1, 1, 1, 1, 0)
	_, err = Fit(p, spec, LambdaPair{}, InitializeParams(other, spec), FitOptions{MaxIter: 1, Tol: 1})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Fit with bad init error = %v, want ErrShapeMismatch", err)
	}
}

func TestFit_DoesNotModifyInit(t *testing.T) {
	p, _ := syntheticPanel(25, 5, 4, 1, 1, 1, 1, 0.1)
	spec := ModelSpec{UseUnitFE: true}
	init := InitializeParams(p, spec)
	gamma := append([]float64(nil), init.Gamma...)

	_, err := Fit(p, spec, LambdaPair{L: 0.01}, init, FitOptions{MaxIter: 5, Tol: 1e-8})
	require.NoError(t, err)
	assert.Equal(t, gamma, init.Gamma)
	assert.Equal(t, 0.0, FrobeniusNorm(init.L))
}

func TestInitializeParams_FixedEffectsUseFittingEntries(t *testing.T) {
	p := &Panel{
		Y: mat.NewDense(2, 3, []float64{
			1, 2, 100,
			4, 5, 6,
		}),
		W: mat.NewDense(2, 3, []float64{
			0, 0, 1,
			0, 0, 0,
		}),
	}
	params := InitializeParams(p, ModelSpec{UseUnitFE: true, UseTimeFE: true})
	assert.InDeltaSlice(t, []float64{1.5, 5}, params.Gamma, 1e-12)
	// residuals after gamma: row 0 -> (-0.5, 0.5, -), row 1 -> (-1, 0, 1)
	assert.InDeltaSlice(t, []float64{-0.75, 0.25, 1}, params.Delta, 1e-12)

	params = InitializeParams(p, ModelSpec{})
	assert.Equal(t, []float64{0, 0}, params.Gamma)
	assert.Equal(t, []float64{0, 0, 0}, params.Delta)
}

func TestFitStatus_String(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "max_iter_reached", MaxIterReached.String())
}

func TestFit_NegativePenalty(t *testing.T) {
	p, _ := syntheticPanel(26, 4, 5, 1, 1, 1, 1, 0)
	spec := ModelSpec{}
	for _, lambda := range []LambdaPair{{L: -1}, {H: -0.5}} {
		_, err := Fit(p, spec, lambda, InitializeParams(p, spec), FitOptions{MaxIter: 5, Tol: 1e-6})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("Fit(%+v) error = %v, want ErrInvalidConfig", lambda, err)
		}
	}
}
