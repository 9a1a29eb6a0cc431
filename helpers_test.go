package mcnnm

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// helper: compare floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// helper: entrywise comparison of two matrices
func assertMatrixNear(t *testing.T, name string, got, want mat.Matrix, tol float64) {
	t.Helper()
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	if gr != wr || gc != wc {
		t.Fatalf("%s dims = %dx%d, want %dx%d", name, gr, gc, wr, wc)
	}
	for i := 0; i < gr; i++ {
		for j := 0; j < gc; j++ {
			if !almostEqual(got.At(i, j), want.At(i, j), tol) {
				t.Fatalf("%s[%d,%d] = %v, want %v", name, i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

// lowRank returns A B^T with A N x r and B T x r drawn from N(0, scale^2).
func lowRank(rng *rand.Rand, N, T, r int, scale float64) *mat.Dense {
	a := mat.NewDense(N, r, nil)
	b := mat.NewDense(T, r, nil)
	a.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() * scale }, a)
	b.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() * scale }, b)
	var out mat.Dense
	out.Mul(a, b.T())
	return &out
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	m.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, m)
	return m
}

// syntheticPanel builds Y = L0 + tau * W + noise, where W treats the last
// treatedPeriods periods of the first treatedUnits units.
func syntheticPanel(seed int64, N, T, rank, treatedUnits, treatedPeriods int, tau, noise float64) (*Panel, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	l0 := lowRank(rng, N, T, rank, 1)
	w := mat.NewDense(N, T, nil)
	for i := 0; i < treatedUnits; i++ {
		for t := T - treatedPeriods; t < T; t++ {
			w.Set(i, t, 1)
		}
	}
	y := mat.NewDense(N, T, nil)
	y.Apply(func(i, t int, v float64) float64 {
		return v + tau*w.At(i, t) + noise*rng.NormFloat64()
	}, l0)
	return &Panel{Y: y, W: w}, l0
}

func float64p(v float64) *float64 { return &v }
